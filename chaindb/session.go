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

// Session is a handle to one nested undo frame opened by
// Controller.StartSession. Exactly one of Commit/Squash/Undo must be
// called on it before it goes out of scope; calling none of them leaves
// the controller's revision permanently advanced with no way back short
// of a later Undo at the same revision.
type Session struct {
	controller *Controller
	revision   common.Revision
	closed     bool
}

// StartSession opens a new nested undo frame and returns a handle to it.
func (c *Controller) StartSession() *Session {
	rev := c.engine.StartSession()
	return &Session{controller: c, revision: rev}
}

// Revision returns the revision this session opened at.
func (s *Session) Revision() common.Revision { return s.revision }

// Commit retires this session's frame permanently: its changes survive,
// but it can no longer be undone independently of earlier sessions.
func (s *Session) Commit() error {
	if s.closed {
		return ErrSessionMismatch
	}
	if !s.controller.engine.Enabled() {
		return ErrNoActiveSession
	}
	s.closed = true
	return s.controller.engine.Commit(s.revision)
}

// Squash merges this session's frame into its parent, so the combined
// change can still be undone as one unit.
func (s *Session) Squash() error {
	if s.closed {
		return ErrSessionMismatch
	}
	if !s.controller.engine.Enabled() {
		return ErrNoActiveSession
	}
	s.closed = true
	return s.controller.engine.Squash(s.revision)
}

// Undo reverts every change made during this session.
func (s *Session) Undo() error {
	if s.closed {
		return ErrSessionMismatch
	}
	if !s.controller.engine.Enabled() {
		return ErrNoActiveSession
	}
	s.closed = true
	return s.controller.engine.Undo(s.revision)
}
