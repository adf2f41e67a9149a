package odb

import (
	"sort"
	"sync"
)

// snapshotIterator is a bidirectional iterator over a snapshot of an
// index's contents, taken under the index's reader lock at construction.
// Shared by rbTreeIndex and listIndex.
//
// A tree-walk iterator could track a stack of node pointers plus a
// per-entry "already descended right" bit to resume traversal in either
// direction without parent pointers, using O(tree height) memory.
// Materializing the full in-order sequence into a slice up front costs
// O(size) memory instead, but every handle present at construction is
// then visited exactly once, in comparator order, immune to concurrent
// mutation after the lock is taken.
type snapshotIterator struct {
	mu     *sync.RWMutex
	cmp    Comparator
	items  []Handle
	pos    int // index of the current item; -1 or len(items) when there is none
	closed bool
}

func newSnapshotIterator(mu *sync.RWMutex, cmp Comparator, items []Handle, startPos int) *snapshotIterator {
	return &snapshotIterator{mu: mu, cmp: cmp, items: items, pos: startPos}
}

// seek positions the iterator relative to h per dir: DirSucc anchors Next()
// on the first entry strictly greater than h (an exact match, including a
// whole run of duplicates, is skipped past), DirPred anchors Prev() on the
// last entry strictly less than h, and DirEq anchors Next() on an exact
// match or exhausts the iterator on a miss.
func (it *snapshotIterator) seek(h Handle, dir Dir) {
	idx := sort.Search(len(it.items), func(i int) bool {
		return it.cmp.Compare(it.items[i], h) >= 0
	})
	switch dir {
	case DirSucc:
		gt := sort.Search(len(it.items), func(i int) bool {
			return it.cmp.Compare(it.items[i], h) > 0
		})
		it.pos = gt - 1
	case DirPred:
		it.pos = idx
	default: // DirEq
		if idx < len(it.items) && it.cmp.Compare(it.items[idx], h) == 0 {
			it.pos = idx - 1
		} else {
			it.pos = len(it.items)
		}
	}
}

func (it *snapshotIterator) Next() Handle {
	if it.closed || it.pos >= len(it.items) {
		it.pos = len(it.items)
		return NullHandle
	}
	it.pos++
	if it.pos >= len(it.items) {
		return NullHandle
	}
	return it.items[it.pos]
}

func (it *snapshotIterator) Prev() Handle {
	if it.closed || it.pos <= 0 {
		it.pos = -1
		return NullHandle
	}
	it.pos--
	return it.items[it.pos]
}

func (it *snapshotIterator) Data() Handle {
	if it.pos < 0 || it.pos >= len(it.items) {
		return NullHandle
	}
	return it.items[it.pos]
}

func (it *snapshotIterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.mu.RUnlock()
}
