// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package resource fixes the billing contract the controller drives on
// every insert/update/remove: a payer's storage usage grows or shrinks by
// the byte delta of the change, except at genesis (StartRevision) where
// billing is suppressed so the initial chain state is free.
package resource

import "github.com/carmen-db/chaindb/common"

// Manager tracks per-payer storage usage and turns byte deltas into
// charges or refunds.
type Manager interface {
	// AddStorageUsage charges payer for a positive delta (bytes added) at
	// the given revision; delta may be negative for a shrink within the
	// same operation (e.g. an update that replaces a larger value).
	AddStorageUsage(payer string, delta int, revision common.Revision) error
	// Usage returns payer's current tracked byte usage.
	Usage(payer string) int
}

// NullManager is a Manager that charges nothing; useful for tests and
// tools that exercise the store without resource accounting.
type NullManager struct{}

var _ Manager = NullManager{}

func (NullManager) AddStorageUsage(string, int, common.Revision) error { return nil }
func (NullManager) Usage(string) int                                   { return 0 }
