package odb

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AddVariable derives the stored length by calling the length function
// exactly once, caching its return rather than assuming purity.
func TestAddVariableCallsLengthFuncOnce(t *testing.T) {
	store := Open(ModeLinkedListVariable, 0, nil, nil)
	calls := 0
	h, err := store.AddVariable([]byte("abcdef"), func([]byte) int {
		calls++
		return 4
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "abcd", string(h.Bytes()))
}

// A store opened with a sweep interval prunes matching records on its own,
// with no explicit RemoveSweep/RemoveCleanup calls from the caller.
func TestBackgroundSweeperPrunesOnInterval(t *testing.T) {
	cond := ConditionFunc(func(h Handle) bool { return readInt64(h)%2 == 0 })
	store := Open(ModeBanked, 8, cond, NewOptions("", OptSweepInterval(10)))
	defer store.Close()
	idx := NewRedBlackTreeIndex(0, ComparatorFunc(CompareInt64LE), nil, true)
	store.Attach(idx)

	for i := int64(0); i < 10; i++ {
		longHandle(store, i)
	}

	assert.Eventually(t, func() bool { return store.Size() == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return idx.Size() == 5 }, 2*time.Second, 5*time.Millisecond)
	idx.Query(nil, func(h Handle) bool {
		assert.NotZero(t, readInt64(h)%2)
		return true
	})
}

// A store opened with an archive routes every swept record's bytes into it
// before the storage is reclaimed.
func TestSweepArchivesPrunedRecords(t *testing.T) {
	fs := afero.NewMemMapFs()
	a, err := OpenArchive(fs, "/swept", nil, nil)
	require.NoError(t, err)

	cond := ConditionFunc(func(h Handle) bool { return readInt64(h)%2 == 0 })
	store := Open(ModeBanked, 8, cond, NewOptions("", OptArchive(a)))
	for i := int64(0); i < 4; i++ {
		longHandle(store, i)
	}

	store.RemoveCleanup(store.RemoveSweep())
	require.NoError(t, a.Close())

	dat, err := afero.ReadFile(fs, "/swept.dat")
	require.NoError(t, err)
	assert.Len(t, dat, 16, "two pruned 8-byte records should have been archived")
	assert.EqualValues(t, 2, store.Size())
}
