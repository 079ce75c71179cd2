// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package resource

import (
	"fmt"

	"github.com/carmen-db/chaindb/common"
)

// MemoryManager is an in-memory reference Manager: a flat per-payer byte
// counter, with genesis (revision == StartRevision) billing suppressed as
// in the controller's storage-billing protocol.
type MemoryManager struct {
	usage map[string]int
}

var _ Manager = (*MemoryManager)(nil)

// NewMemoryManager returns an empty MemoryManager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{usage: make(map[string]int)}
}

func (m *MemoryManager) AddStorageUsage(payer string, delta int, revision common.Revision) error {
	if revision <= common.StartRevision {
		return nil
	}
	next := m.usage[payer] + delta
	if next < 0 {
		return common.NewError(common.KindResource, "negative_usage", "", fmt.Errorf("payer %q usage would go negative: %d + %d", payer, m.usage[payer], delta))
	}
	m.usage[payer] = next
	return nil
}

func (m *MemoryManager) Usage(payer string) int {
	return m.usage[payer]
}
