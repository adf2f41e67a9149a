package odb

import "sync/atomic"

// Handle is a stable reference to a record's storage slot within a
// DataStore. Handles remain valid until the record is swept or the owning
// DataStore is destroyed.
type Handle struct {
	rec *record
}

// NullHandle represents "no record." An Iterator whose current handle is
// NullHandle is exhausted.
var NullHandle = Handle{}

// record is the storage backing a Handle. seq supplies a total, monotonic
// allocation order, standing in for pointer-address order (a Go pointer
// under a moving GC offers no stable arithmetic ordering) as the
// disambiguator for duplicate subtrees keyed on insertion order.
type record struct {
	bytes     []byte
	timestamp int64
	seq       uint64
	removed   int32
	next      *record // linked-store chain; unused in banked mode

	// bankIdx/slotIdx cache a banked-mode record's current bank[i/cap][i%cap]
	// position so RemoveAddr can push the slot onto the free list in O(1)
	// instead of scanning every bank for the pointer. bankedStore keeps
	// these current: set on every placement (fresh append or free-list
	// reuse) and rewritten whenever RemoveCleanup relocates a survivor into
	// a freed slot. Unused (zero value) outside banked mode.
	bankIdx int
	slotIdx int
}

// Bytes returns the record's stored payload.
func (h Handle) Bytes() []byte {
	if h.rec == nil {
		return nil
	}
	return h.rec.bytes
}

// Timestamp returns the record's stamped allocation time, seconds since the
// datastore's chosen epoch, or 0 if expiry wasn't enabled on the owning
// datastore.
func (h Handle) Timestamp() int64 {
	if h.rec == nil {
		return 0
	}
	return h.rec.timestamp
}

// Seq returns the handle's allocation sequence number, used as the
// disambiguator for duplicate-retaining indexes.
func (h Handle) Seq() uint64 {
	if h.rec == nil {
		return 0
	}
	return h.rec.seq
}

// Valid reports whether h refers to a record at all (is not NullHandle).
func (h Handle) Valid() bool { return h.rec != nil }

// Removed reports whether the underlying record has been logically removed
// (RemoveAddr called, or pruned by a sweep) but not yet garbage collected
// by a subsequent index purge.
func (h Handle) Removed() bool {
	return h.rec != nil && atomic.LoadInt32(&h.rec.removed) != 0
}

func (h Handle) markRemoved() { atomic.StoreInt32(&h.rec.removed, 1) }
