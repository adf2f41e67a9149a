package odb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RemoveAddr must place the freed slot on the free list immediately,
// not merely mark the record removed: a later Add should
// reuse that slot rather than growing the store, and GetAt over the freed
// position must report NullHandle until it's reused.
func TestBankedStoreRemoveAddrFreesSlotForReuse(t *testing.T) {
	opts := NewOptions("", OptBankCapacity(4))
	store := Open(ModeBanked, 8, nil, opts)

	h1 := longHandle(store, 1)
	longHandle(store, 2)
	longHandle(store, 3)
	require.EqualValues(t, 3, store.Size())

	bs := store.(*bankedStore)
	freedBank, freedSlot := h1.rec.bankIdx, h1.rec.slotIdx

	require.True(t, store.RemoveAddr(h1))
	assert.EqualValues(t, 2, store.Size())
	require.Len(t, bs.freeList, 1)
	assert.Equal(t, bankSlot{freedBank, freedSlot}, bs.freeList[0])
	assert.Nil(t, bs.banks[freedBank][freedSlot])
	assert.False(t, store.GetAt(freedBank*bs.bankCap+freedSlot).Valid())

	banksBefore := len(bs.banks)
	h4 := longHandle(store, 4)
	assert.EqualValues(t, 3, store.Size())
	assert.Len(t, bs.freeList, 0, "Add must have drained the free list instead of growing banks")
	assert.Equal(t, banksBefore, len(bs.banks))
	assert.Equal(t, freedBank, h4.rec.bankIdx)
	assert.Equal(t, freedSlot, h4.rec.slotIdx)

	// Removing the same handle twice is a no-op the second time.
	assert.False(t, store.RemoveAddr(h1))
}

// A record relocated into a freed slot by RemoveCleanup must have its
// cached bank/slot coordinates updated, so a subsequent RemoveAddr on the
// relocated handle frees the *new* slot rather than stale coordinates
// pointing at the slot it used to occupy.
func TestBankedStoreRemoveAddrAfterCompactionUsesUpdatedSlot(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for i := int64(0); i < 10; i++ {
		longHandle(store, i)
	}

	bs := store.(*bankedStore)
	bs.storeBase.cond = ConditionFunc(func(h Handle) bool { return readInt64(h)%2 == 0 })
	marks := store.RemoveSweep()
	store.RemoveCleanup(marks)
	require.EqualValues(t, 5, store.Size())

	// Find the handle that survived by relocation: a SweepMark whose
	// Replacement is valid names it, and its rec now lives at the old
	// slot's coordinates, not the one it started at.
	var relocated Handle
	for _, m := range marks {
		if m.Replacement.Valid() {
			relocated = m.Replacement
			break
		}
	}
	require.True(t, relocated.Valid())

	bi, si := relocated.rec.bankIdx, relocated.rec.slotIdx
	require.True(t, bs.banks[bi][si] == relocated.rec)

	require.True(t, store.RemoveAddr(relocated))
	assert.Nil(t, bs.banks[bi][si])
	assert.EqualValues(t, 4, store.Size())
}

// GetAddr hands out a zeroed slot the caller fills in place, without
// publishing the handle to any attached index.
func TestBankedStoreGetAddrAllocatesUnpublishedSlot(t *testing.T) {
	store := Open(ModeBanked, 8, nil, nil)
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	h, err := store.GetAddr()
	require.NoError(t, err)
	require.True(t, h.Valid())
	assert.Len(t, h.Bytes(), 8)
	assert.EqualValues(t, 1, store.Size())
	assert.EqualValues(t, 0, idx.Size(), "GetAddr must not publish to indexes")

	h.Bytes()[0] = 42
	idx.Add(h)
	assert.EqualValues(t, 1, idx.Size())
}

// ModeBankedIndirect stores the caller's slice by reference: mutating it
// after Add is visible through the handle, unlike ModeBanked's copy.
func TestBankedStoreIndirectModeSharesCallerBuffer(t *testing.T) {
	store := Open(ModeBankedIndirect, 8, nil, nil)
	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	h, err := store.Add(buf)
	require.NoError(t, err)
	assert.Equal(t, buf, h.Bytes())

	buf[0] = 0xff
	assert.Equal(t, byte(0xff), h.Bytes()[0], "indirect mode must not have copied the input buffer")
}

// ModeLinkedListIndirect gets the same by-reference contract for the
// linked-list store.
func TestLinkedStoreIndirectModeSharesCallerBuffer(t *testing.T) {
	store := Open(ModeLinkedListIndirect, 0, nil, nil)
	buf := []byte{9, 9, 9}

	h, err := store.Add(buf)
	require.NoError(t, err)

	buf[1] = 0
	assert.Equal(t, byte(0), h.Bytes()[1], "indirect mode must not have copied the input buffer")
}
