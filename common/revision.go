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

// Revision identifies a session/undo frame. Revisions increase
// monotonically across the lifetime of a controller.
type Revision int64

const (
	// ImpossibleRevision marks "no active session".
	ImpossibleRevision Revision = -1
	// StartRevision marks genesis; billing is suppressed at this revision.
	StartRevision Revision = 0
)
