// Package pager provides a shared page cursor for draining several
// independently ordered record sources through the same descending id
// space. Each source returns one page of rows strictly below the current
// bound; the next bound is the smallest last-id any source reached, so the
// slowest source is never paged past. The cursor carries its own "no
// bound" and "exhausted" states instead of overloading a maximum-integer
// sentinel that could collide with a real id.
package pager

import (
	"fmt"
	"strconv"
)

// A Cursor is an exclusive upper bound on record ids for one page of a
// descending scan.
type Cursor struct {
	id    int64
	state cursorState
}

type cursorState uint8

const (
	stateUnbounded cursorState = iota
	stateBounded
	stateExhausted
)

// Unbounded returns a cursor that places no upper bound on the next page.
func Unbounded() Cursor { return Cursor{} }

// Before returns a cursor restricting the next page to ids strictly below id.
func Before(id int64) Cursor { return Cursor{id: id, state: stateBounded} }

// Exhausted returns the terminal cursor: every source has run out of rows.
func Exhausted() Cursor { return Cursor{state: stateExhausted} }

// Bound reports the exclusive upper id bound. ok is false for unbounded and
// exhausted cursors, which carry no id.
func (c Cursor) Bound() (id int64, ok bool) {
	return c.id, c.state == stateBounded
}

// IsUnbounded reports whether the cursor places no upper bound.
func (c Cursor) IsUnbounded() bool { return c.state == stateUnbounded }

// IsExhausted reports whether the scan is complete.
func (c Cursor) IsExhausted() bool { return c.state == stateExhausted }

func (c Cursor) String() string {
	switch c.state {
	case stateBounded:
		return "before " + strconv.FormatInt(c.id, 10)
	case stateExhausted:
		return "exhausted"
	default:
		return "unbounded"
	}
}

var _ fmt.Stringer = Cursor{}

// Advance computes the next shared cursor from the pages each source
// returned for the current one. A non-empty page contributes the id of its
// last (smallest) element; the next cursor is the smallest contribution, so
// a source that was cut off above another source's boundary is revisited
// with the correct bound on the following page. When every page is empty
// the sources are exhausted.
//
// Pages must be ordered by descending id; lastID extracts an element's id.
func Advance[T any](lastID func(T) int64, pages ...[]T) Cursor {
	next := Exhausted()
	for _, page := range pages {
		if len(page) == 0 {
			continue
		}
		id := lastID(page[len(page)-1])
		if bound, ok := next.Bound(); !ok || id < bound {
			next = Before(id)
		}
	}
	return next
}
