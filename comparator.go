package odb

import (
	"bytes"
	"encoding/binary"
)

// Comparator implements a total order over handles.
// Compare(a, b) returns <0, 0, or >0; implementations retained-duplicate
// indexes are allowed to return 0 for distinct handles (the index then
// disambiguates by handle allocation order, see addressComparator below).
type Comparator interface {
	Compare(a, b Handle) int
}

// ComparatorFunc adapts a plain function to a Comparator.
type ComparatorFunc func(a, b Handle) int

// Compare implements Comparator.
func (f ComparatorFunc) Compare(a, b Handle) int { return f(a, b) }

// Merger resolves a duplicate-key collision: it returns which of the two
// competing handles should occupy the index slot. A red-black tree index
// consults it only when configured to drop duplicates; a linked-list index
// consults it whenever one is set, ahead of its duplicate policy.
type Merger interface {
	Merge(incoming, existing Handle) Handle
}

// MergerFunc adapts a plain function to a Merger.
type MergerFunc func(incoming, existing Handle) Handle

// Merge implements Merger.
func (f MergerFunc) Merge(incoming, existing Handle) Handle { return f(incoming, existing) }

// Condition is a predicate over a handle, used for query filtering, sweep
// pruning, and archive write filtering.
type Condition interface {
	Eval(h Handle) bool
}

// ConditionFunc adapts a plain function to a Condition.
type ConditionFunc func(h Handle) bool

// Eval implements Condition.
func (f ConditionFunc) Eval(h Handle) bool { return f(h) }

// addressComparator orders handles by allocation sequence number, serving
// as the comparator for embedded duplicate subtrees. It stands in for
// pointer-address ordering: Go offers no stable pointer arithmetic under
// a moving GC, so insertion sequence plays the same disambiguating role.
var addressComparator Comparator = ComparatorFunc(func(a, b Handle) int {
	switch {
	case a.rec == b.rec:
		return 0
	case a.rec.seq < b.rec.seq:
		return -1
	case a.rec.seq > b.rec.seq:
		return 1
	default:
		return 0
	}
})

// CompareBytes orders handles lexicographically by their stored bytes.
func CompareBytes(a, b Handle) int {
	return bytes.Compare(a.Bytes(), b.Bytes())
}

// CompareInt64LE interprets each handle's first 8 bytes as a little-endian
// signed 64-bit integer and compares them.
//
// Implemented with branches rather than subtraction, since subtracting
// two 64-bit integers and truncating to a signed int return can overflow
// the comparator's return range.
func CompareInt64LE(a, b Handle) int {
	x := int64(binary.LittleEndian.Uint64(a.Bytes()))
	y := int64(binary.LittleEndian.Uint64(b.Bytes()))
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// CompareUint64LE is the unsigned counterpart of CompareInt64LE.
func CompareUint64LE(a, b Handle) int {
	x := binary.LittleEndian.Uint64(a.Bytes())
	y := binary.LittleEndian.Uint64(b.Bytes())
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}
