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

import "fmt"

// ConstError is a sentinel error usable as a package-level const, e.g.
//
//	const ErrNotFound = common.ConstError("not found")
type ConstError string

func (e ConstError) Error() string { return string(e) }

// Kind classifies an Error by the taxonomy of the object store's failure
// modes: schema, driver, session, resource, or internal faults.
type Kind int

const (
	KindSchema Kind = iota
	KindDriver
	KindSession
	KindResource
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindDriver:
		return "driver"
	case KindSession:
		return "session"
	case KindResource:
		return "resource"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a structured, user-visible failure: a Kind, a short machine
// tag, and a human message naming the offending table and keys.
type Error struct {
	Kind  Kind
	Tag   string
	Table string
	Keys  []any
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Tag)
	if e.Table != "" {
		msg = fmt.Sprintf("%s (table %s", msg, e.Table)
		if len(e.Keys) > 0 {
			msg = fmt.Sprintf("%s, keys %v", msg, e.Keys)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a structured Error for the given kind/tag/table.
func NewError(kind Kind, tag, table string, err error, keys ...any) *Error {
	return &Error{Kind: kind, Tag: tag, Table: table, Err: err, Keys: keys}
}
