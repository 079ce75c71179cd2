// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package common holds the small value types shared by every layer of the
// object store: primary keys, revisions, and the sentinel error type used
// throughout the core.
package common

// PK is a table row's primary key. Zero is a valid key; the reserved
// sentinels below are excluded by IsGood.
type PK uint64

const (
	// UnsetPK marks the absence of an allocated primary key.
	UnsetPK PK = 0xffffffffffffffff
	// EndPK marks the position past the last row of a cursor.
	EndPK PK = 0xfffffffffffffffe
)

// IsGood reports whether pk is usable as a real row identifier, i.e. it is
// neither UnsetPK nor EndPK.
func IsGood(pk PK) bool {
	return pk != UnsetPK && pk != EndPK
}

// Next returns the smallest PK strictly greater than pk that IsGood accepts.
func (pk PK) Next() PK {
	next := pk + 1
	for !IsGood(next) {
		next++
	}
	return next
}
