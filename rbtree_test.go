package odb

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func longHandle(store DataStore, v int64) Handle {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	h, err := store.Add(buf[:])
	if err != nil {
		panic(err)
	}
	return h
}

// Banked store, 8-byte records, red-black tree index with drop-dup=true.
func TestRBTreeIndexDropDuplicatesOnInsert(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for _, v := range []int64{5, 3, 8, 3, 1} {
		longHandle(store, v)
	}

	assert.EqualValues(t, 4, idx.Size())

	var got []int64
	it := idx.ItFirst()
	for h := it.Next(); h.Valid(); h = it.Next() {
		got = append(got, readInt64(h))
	}
	it.Close()
	assert.Equal(t, []int64{1, 3, 5, 8}, got)

	var eq []int64
	idx.QueryEq(synthInt64(3), func(h Handle) bool {
		eq = append(eq, readInt64(h))
		return true
	})
	assert.Len(t, eq, 1)
	assert.True(t, idx.(*rbTreeIndex).Verify())
}

// Same as above with drop-dup=false: every insert, including exact-value
// duplicates, should occupy its own slot.
func TestRBTreeIndexRetainsDuplicatesInOrder(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, false)
	store.Attach(idx)

	for _, v := range []int64{5, 3, 8, 3, 1} {
		longHandle(store, v)
	}

	assert.EqualValues(t, 5, idx.Size())

	var got []int64
	it := idx.ItFirst()
	for h := it.Next(); h.Valid(); h = it.Next() {
		got = append(got, readInt64(h))
	}
	it.Close()
	assert.Equal(t, []int64{1, 3, 3, 5, 8}, got)
	assert.True(t, idx.(*rbTreeIndex).Verify())
}

// 100 longs from a reproducible pseudo-random walk, drop-dup=true: the
// tree invariant must still hold afterward, and forward iteration must be
// strictly increasing since drop-dup leaves only distinct keys.
func TestRBTreeRandomInsertStaysBalancedAndOrdered(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	r := rand.New(rand.NewSource(0))
	for i := 0; i < 100; i++ {
		v := int64(i) + int64(r.Intn(201)) - 100
		longHandle(store, v)
	}

	require.True(t, idx.(*rbTreeIndex).Verify())

	it := idx.ItFirst()
	prev := h0(it)
	require.True(t, prev.Valid())
	for h := it.Next(); h.Valid(); h = it.Next() {
		assert.Less(t, readInt64(prev), readInt64(h))
		prev = h
	}
	it.Close()
}

func h0(it Iterator) Handle { return it.Next() }

func readInt64(h Handle) int64 {
	b := h.Bytes()
	var v int64
	for i := 7; i >= 0; i-- {
		v = (v << 8) | int64(b[i])
	}
	return v
}

func synthInt64(v int64) Handle {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return Handle{rec: &record{bytes: buf}}
}

// Prune sweep on 1,000 longs with an even-value predicate.
func TestRBTreeIndexSweepPrunesEvenValues(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for i := int64(0); i < 1000; i++ {
		longHandle(store, i)
	}
	require.EqualValues(t, 1000, idx.Size())

	even := ConditionFunc(func(h Handle) bool { return readInt64(h)%2 == 0 })
	bs := store.(*bankedStore)
	bs.storeBase.cond = even

	marks := store.RemoveSweep()
	store.RemoveCleanup(marks)

	assert.EqualValues(t, 500, idx.Size())
	assert.EqualValues(t, 500, store.Size(), "store-level Size must reflect the sweep, not just the index")
	idx.Query(nil, func(h Handle) bool {
		assert.NotZero(t, readInt64(h)%2)
		return true
	})

	// Every surviving value must occupy exactly one live slot: a sweep
	// that leaves a replacement record duplicated in its old and new
	// slots would make some value reachable from two GetAt positions.
	seen := make(map[int64]int)
	for i := 0; i < len(bs.banks)*bs.bankCap; i++ {
		if h := store.GetAt(i); h.Valid() {
			seen[readInt64(h)]++
		}
	}
	for v, n := range seen {
		assert.Equal(t, 1, n, "value %d reachable from %d live slots", v, n)
	}

	// Sweep idempotence at both the index and the store: a second sweep
	// with no intervening adds finds nothing new to prune, and a second
	// cleanup over the (now stale) first marks changes nothing further.
	marks2 := store.RemoveSweep()
	assert.Empty(t, marks2)
	store.RemoveCleanup(marks)
	assert.EqualValues(t, 500, store.Size())
}

// Small bank capacity forces RemoveSweep's per-bank scan across many
// banks, exercising the semaphore-bounded fan-out rather than a single
// sequential pass.
func TestRBTreeIndexSweepAcrossManyBanks(t *testing.T) {
	opts := NewOptions("", OptBankCapacity(16), OptCores(2))
	store := Open(ModeBanked, 8, nil, opts)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for i := int64(0); i < 500; i++ {
		longHandle(store, i)
	}
	require.EqualValues(t, 500, idx.Size())

	bs := store.(*bankedStore)
	require.Greater(t, len(bs.banks), 2)
	bs.storeBase.cond = ConditionFunc(func(h Handle) bool { return readInt64(h)%2 == 0 })

	marks := store.RemoveSweep()
	store.RemoveCleanup(marks)

	assert.EqualValues(t, 250, idx.Size())
	idx.Query(nil, func(h Handle) bool {
		assert.NotZero(t, readInt64(h)%2)
		return true
	})
	assert.True(t, idx.(*rbTreeIndex).Verify())
}

func TestRBTreeRemove(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	h3 := longHandle(store, 3)
	longHandle(store, 7)
	longHandle(store, 1)

	require.True(t, idx.Remove(h3))
	assert.EqualValues(t, 2, idx.Size())
	assert.True(t, idx.(*rbTreeIndex).Verify())

	var got []int64
	idx.Query(nil, func(h Handle) bool {
		got = append(got, readInt64(h))
		return true
	})
	assert.Equal(t, []int64{1, 7}, got)
}

// Deleting an interior node with two children replaces its payload with
// the in-order predecessor's and keeps the tree valid and ordered.
func TestRBTreeRemoveInteriorNodeSplicesPredecessor(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	handles := map[int64]Handle{}
	for _, v := range []int64{50, 25, 75, 12, 37, 62, 87, 31, 43} {
		handles[v] = longHandle(store, v)
	}

	rb := idx.(*rbTreeIndex)
	target := rbFind(rb.root, handles[25], rb.cmp)
	require.NotNil(t, target)

	require.True(t, idx.Remove(handles[25]))
	assert.EqualValues(t, 8, idx.Size())
	// The node that held 25 now carries its in-order predecessor, 12
	// (a successor splice would have left 31 there).
	assert.True(t, sameHandle(target.key, handles[12]))
	assert.True(t, idx.(*rbTreeIndex).Verify())

	var got []int64
	idx.Query(nil, func(h Handle) bool {
		got = append(got, readInt64(h))
		return true
	})
	assert.Equal(t, []int64{12, 31, 37, 43, 50, 62, 75, 87}, got)
}

func TestRBTreeRetainDuplicateRemovalByIdentity(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, false)
	store.Attach(idx)

	a := longHandle(store, 5)
	b := longHandle(store, 5)
	require.EqualValues(t, 2, idx.Size())

	require.True(t, idx.Remove(a))
	assert.EqualValues(t, 1, idx.Size())

	var got []Handle
	idx.QueryEq(b, func(h Handle) bool {
		got = append(got, h)
		return true
	})
	require.Len(t, got, 1)
	assert.True(t, sameHandle(got[0], b))
}

// Update is the direct re-pointing path DataStore coordination paths other
// than RemoveSweep use to move an index entry from one handle to another.
func TestRBTreeUpdateRepointsEntry(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	old := longHandle(store, 42)
	replacement := synthInt64(42)

	idx.Update([]Handle{old}, []Handle{replacement})

	assert.EqualValues(t, 1, idx.Size())
	var got []Handle
	idx.QueryEq(synthInt64(42), func(h Handle) bool {
		got = append(got, h)
		return true
	})
	require.Len(t, got, 1)
	assert.True(t, sameHandle(got[0], replacement))
	assert.True(t, idx.(*rbTreeIndex).Verify())
}

func TestLookupConvenience(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	longHandle(store, 5)

	got, err := Lookup(idx, synthInt64(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), readInt64(got))

	_, err = Lookup(idx, synthInt64(6))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDataStoreAllocationFailureAtCapacity(t *testing.T) {
	store := Open(ModeBanked, 8, nil, NewOptions("", OptMaxRecords(2)))
	_, err := store.Add(make([]byte, 8))
	require.NoError(t, err)
	_, err = store.Add(make([]byte, 8))
	require.NoError(t, err)

	_, err = store.Add(make([]byte, 8))
	require.Error(t, err)
	var af *AllocationFailure
	assert.ErrorAs(t, err, &af)
	assert.EqualValues(t, 2, store.Size())
}

func TestRBTreeItLookup(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for _, v := range []int64{1, 3, 5, 8, 9} {
		longHandle(store, v)
	}

	eq := idx.ItLookup(synthInt64(5), DirEq)
	assert.Equal(t, int64(5), readInt64(eq.Next()))
	eq.Close()

	miss := idx.ItLookup(synthInt64(4), DirEq)
	assert.False(t, miss.Next().Valid())
	miss.Close()

	succ := idx.ItLookup(synthInt64(4), DirSucc)
	assert.Equal(t, int64(5), readInt64(succ.Next()))
	succ.Close()

	// Successor means strictly greater: an exact match is skipped past,
	// distinguishing DirSucc from DirEq.
	succEq := idx.ItLookup(synthInt64(5), DirSucc)
	assert.Equal(t, int64(8), readInt64(succEq.Next()))
	succEq.Close()

	succLast := idx.ItLookup(synthInt64(9), DirSucc)
	assert.False(t, succLast.Next().Valid())
	succLast.Close()

	pred := idx.ItLookup(synthInt64(4), DirPred)
	assert.Equal(t, int64(3), readInt64(pred.Prev()))
	pred.Close()

	predEq := idx.ItLookup(synthInt64(5), DirPred)
	assert.Equal(t, int64(3), readInt64(predEq.Prev()))
	predEq.Close()
}

// With retained duplicates, DirSucc skips the entire equal-key run, not
// just the first matching entry.
func TestRBTreeItLookupSuccSkipsDuplicateRun(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, false)
	store.Attach(idx)

	for _, v := range []int64{1, 3, 3, 3, 7} {
		longHandle(store, v)
	}

	succ := idx.ItLookup(synthInt64(3), DirSucc)
	assert.Equal(t, int64(7), readInt64(succ.Next()))
	succ.Close()
}

func TestRBTreeReverseIteration(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for _, v := range []int64{4, 2, 9, 1, 6} {
		longHandle(store, v)
	}

	var fwd, rev []int64
	it := idx.ItFirst()
	for h := it.Next(); h.Valid(); h = it.Next() {
		fwd = append(fwd, readInt64(h))
	}
	it.Close()

	it2 := idx.ItLast()
	for h := it2.Prev(); h.Valid(); h = it2.Prev() {
		rev = append(rev, readInt64(h))
	}
	it2.Close()

	require.Len(t, rev, len(fwd))
	for i := range fwd {
		assert.Equal(t, fwd[i], rev[len(rev)-1-i])
	}
}
