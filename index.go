package odb

// QuerySink receives handles produced by a query, in traversal order. It
// returns false to stop the query early.
type QuerySink func(h Handle) bool

// Dir requests a predecessor, exact, or successor match from Index.ItLookup.
type Dir int8

const (
	DirPred Dir = -1
	DirEq   Dir = 0
	DirSucc Dir = 1
)

// SweepMark pairs a swept (pruned) handle with the replacement handle the
// datastore compacted into its place, if any. Linked-list backed datastores
// never relocate on sweep, so Replacement is NullHandle for them.
type SweepMark struct {
	Old         Handle
	Replacement Handle

	// oldSlot/replacementSlot carry the bank/slot coordinates bankedStore
	// already knows at RemoveSweep time, so RemoveCleanup can address
	// storage directly (bank[i/cap]+(i%cap)*stride) instead of re-scanning
	// every bank for a pointer match. Unused (zero) outside bankedStore.
	oldSlot         bankSlot
	replacementSlot bankSlot
}

// Index maintains an ordering or grouping over the handles handed to it by
// a DataStore. Every mutating method except AddFast acquires the index's
// own writer lock;
// every Iterator acquires the index's reader lock on construction and
// releases it on Close.
//
// Locks are always acquired datastore-then-index; a single operation never
// holds two index locks at once.
type Index interface {
	// Ident distinguishes indexes owned by the same datastore. Internal
	// (embedded duplicate-subtree) indexes report -1.
	Ident() int64

	// Add inserts h under the index's writer lock and reports whether a new
	// key was inserted (true) versus merged into, or dropped as a
	// duplicate of, an existing entry (false).
	Add(h Handle) bool
	// AddFast is the populate-time fast path used by DataStore.Populate and
	// DataStore.Attach. It takes no index lock; the caller holds the
	// datastore's lock for the duration (the writer lock in Attach, the
	// reader lock in Populate), so no Add through that store can publish
	// to the index meanwhile.
	AddFast(h Handle) bool
	// Remove deletes the entry matching h (by comparator and, for
	// duplicate-retaining indexes, handle identity) and reports whether
	// anything was removed.
	Remove(h Handle) bool
	// Purge discards every entry in the index.
	Purge()
	// Size returns the number of keys (retained-duplicates indexes count
	// every duplicate, not just distinct keys).
	Size() uint64

	// Query invokes sink for every handle satisfying cond, in comparator
	// order, until sink returns false.
	Query(cond Condition, sink QuerySink)
	// QueryEq invokes sink for every handle comparator-equal to h.
	QueryEq(h Handle, sink QuerySink)
	// QueryLt invokes sink, in descending order, for every handle strictly
	// less than h.
	QueryLt(h Handle, sink QuerySink)
	// QueryGt invokes sink, in ascending order, for every handle strictly
	// greater than h.
	QueryGt(h Handle, sink QuerySink)

	// ItFirst returns an iterator positioned before the least key, or an
	// exhausted iterator if the index is empty; either way it holds the
	// reader lock until Close.
	ItFirst() Iterator
	// ItLast returns an iterator positioned after the greatest key.
	ItLast() Iterator
	// ItLookup positions an iterator relative to h per dir.
	ItLookup(h Handle, dir Dir) Iterator

	// RemoveSweep notifies the index that the paired handles in marks have
	// been pruned from the owning datastore; it drops the entries for
	// marks[i].Old. Entries for a valid marks[i].Replacement are left as
	// they are: a relocated record keeps its Handle, so they stay correct.
	RemoveSweep(marks []SweepMark)
	// Update re-points index entries from olds[i] to news[i], used by
	// datastore coordination paths that don't go through RemoveSweep.
	Update(olds, news []Handle)
}

// Lookup is a point-query convenience built atop QueryEq: it returns the
// first handle comparator-equal to h, or ErrNotFound if none exists.
// QueryEq itself never fails this way — a miss simply invokes its sink zero
// times — Lookup is for callers that want a single handle or an error.
func Lookup(idx Index, h Handle) (Handle, error) {
	var found Handle
	idx.QueryEq(h, func(got Handle) bool {
		found = got
		return false
	})
	if !found.Valid() {
		return NullHandle, ErrNotFound
	}
	return found, nil
}

// Iterator is a bidirectional in-order traversal over a snapshot of an
// index's contents, valid for the lifetime of the reader lock it acquired
// on construction.
type Iterator interface {
	// Next advances to, and returns, the next handle in comparator order,
	// or NullHandle if exhausted. Once exhausted, Next stays exhausted.
	Next() Handle
	// Prev advances to, and returns, the previous handle in comparator
	// order, or NullHandle if exhausted.
	Prev() Handle
	// Data returns the handle the iterator currently rests on without
	// advancing it, or NullHandle after exhaustion. Before the first call
	// to Next/Prev it returns NullHandle for an ItFirst or ItLast iterator;
	// an ItLookup iterator may already rest on an entry next to the lookup
	// position, and Data then returns that entry.
	Data() Handle
	// Close releases the reader lock the iterator acquired on
	// construction. Safe to call more than once.
	Close()
}
