// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package chaindb

import "github.com/carmen-db/chaindb/common"

// Sentinel session-kind errors raised by Controller/undoEngine beyond the
// structured common.Error cases, mirroring the "session_exception" class
// in the source system.
const (
	ErrNoActiveSession  = common.ConstError("no active session")
	ErrSessionMismatch  = common.ConstError("session revision mismatch")
	ErrUnknownTable     = common.ConstError("unknown table")
	ErrRestoreCorrupted = common.ConstError("corrupted undo stream")
)
