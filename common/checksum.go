// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import "golang.org/x/crypto/blake2b"

// Checksum is a fixed-size digest used to assert bit-identical state after
// an undo or restore replay.
type Checksum [32]byte

// Sum256 hashes an arbitrary byte payload (typically a row's canonical
// encoding concatenated with its service header) into a Checksum.
func Sum256(data []byte) Checksum {
	return blake2b.Sum256(data)
}
