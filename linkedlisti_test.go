package odb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkedListIndexDropDuplicates(t *testing.T) {
	store := Open(ModeLinkedList, 8, nil, nil)
	idx := NewLinkedListIndex(1, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for _, v := range []int64{5, 3, 8, 3, 1} {
		longHandle(store, v)
	}

	assert.EqualValues(t, 4, idx.Size())

	var got []int64
	idx.Query(nil, func(h Handle) bool {
		got = append(got, readInt64(h))
		return true
	})
	assert.Equal(t, []int64{1, 3, 5, 8}, got)
}

func TestLinkedListIndexRetainDuplicatesInsertionOrder(t *testing.T) {
	store := Open(ModeLinkedList, 8, nil, nil)
	idx := NewLinkedListIndex(1, ComparatorFunc(CompareInt64LE), nil, false)
	store.Attach(idx)

	first := longHandle(store, 3)
	second := longHandle(store, 3)

	var got []Handle
	idx.QueryEq(first, func(h Handle) bool {
		got = append(got, h)
		return true
	})
	require.Len(t, got, 2)
	assert.True(t, sameHandle(got[0], first))
	assert.True(t, sameHandle(got[1], second))
}

func TestLinkedListIndexMerger(t *testing.T) {
	store := Open(ModeLinkedList, 8, nil, nil)
	merger := MergerFunc(func(incoming, existing Handle) Handle { return incoming })
	idx := NewLinkedListIndex(1, ComparatorFunc(CompareInt64LE), merger, false)
	store.Attach(idx)

	longHandle(store, 9)
	second := longHandle(store, 9)

	assert.EqualValues(t, 1, idx.Size())
	var got []Handle
	idx.QueryEq(second, func(h Handle) bool {
		got = append(got, h)
		return true
	})
	require.Len(t, got, 1)
	assert.True(t, sameHandle(got[0], second))
}

func TestLinkedListIndexUpdateRepointsEntry(t *testing.T) {
	store := Open(ModeLinkedList, 8, nil, nil)
	idx := NewLinkedListIndex(1, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	old := longHandle(store, 11)
	replacement := synthInt64(11)

	idx.Update([]Handle{old}, []Handle{replacement})

	assert.EqualValues(t, 1, idx.Size())
	var got []Handle
	idx.QueryEq(synthInt64(11), func(h Handle) bool {
		got = append(got, h)
		return true
	})
	require.Len(t, got, 1)
	assert.True(t, sameHandle(got[0], replacement))
}

func TestLinkedStoreAllocationFailureAtCapacity(t *testing.T) {
	store := Open(ModeLinkedList, 8, nil, NewOptions("", OptMaxRecords(1)))
	_, err := store.Add(make([]byte, 8))
	require.NoError(t, err)

	_, err = store.Add(make([]byte, 8))
	require.Error(t, err)
	var af *AllocationFailure
	assert.ErrorAs(t, err, &af)
	assert.EqualValues(t, 1, store.Size())
}

func TestLinkedStoreSweepNoRelocation(t *testing.T) {
	store := Open(ModeLinkedList, 8, nil, nil)
	idx := NewLinkedListIndex(1, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for i := int64(0); i < 10; i++ {
		longHandle(store, i)
	}

	ls := store.(*linkedStore)
	ls.storeBase.cond = ConditionFunc(func(h Handle) bool { return readInt64(h)%2 == 0 })

	marks := store.RemoveSweep()
	require.NotEmpty(t, marks)
	for _, m := range marks {
		assert.False(t, m.Replacement.Valid())
	}
	store.RemoveCleanup(marks)
	assert.EqualValues(t, 5, idx.Size())
	assert.EqualValues(t, 5, store.Size(), "store-level Size must reflect the sweep, not just the index")

	// A second cleanup over the same (now stale) marks is a no-op: every
	// node it names is already unlinked, so nothing further is subtracted.
	store.RemoveCleanup(marks)
	assert.EqualValues(t, 5, store.Size())
}
