package odb

import (
	"fmt"

	"github.com/gholt/brimtext"
)

// IndexStats snapshots an Index's counters, rendered as a brimtext.Align
// aligned key/value table.
type IndexStats struct {
	Ident          int64
	Kind           string // "redblacktree" or "linkedlist"
	Size           uint64
	DropDuplicates bool
	Verified       bool
}

func (s IndexStats) String() string {
	return brimtext.Align([][]string{
		{"ident", fmt.Sprintf("%d", s.Ident)},
		{"kind", s.Kind},
		{"size", fmt.Sprintf("%d", s.Size)},
		{"dropDuplicates", fmt.Sprintf("%t", s.DropDuplicates)},
		{"verified", fmt.Sprintf("%t", s.Verified)},
	}, nil)
}

// String renders DataStoreStats as an aligned key/value table.
func (s DataStoreStats) String() string {
	return brimtext.Align([][]string{
		{"mode", s.Mode},
		{"size", fmt.Sprintf("%d", s.Size)},
		{"banks", fmt.Sprintf("%d", s.Banks)},
		{"freeSlots", fmt.Sprintf("%d", s.FreeSlots)},
		{"indexCount", fmt.Sprintf("%d", s.IndexCount)},
	}, nil)
}

// Scheduler stats live in the scheduler subpackage (scheduler.Stats),
// rendered the same brimtext way; kept there rather than here so this
// package never needs to import it.

// Stats snapshots a rbTreeIndex's counters.
func (s *rbTreeIndex) Stats() IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := rbVerify(s.root, s.cmp)
	return IndexStats{
		Ident:          s.ident,
		Kind:           "redblacktree",
		Size:           s.size,
		DropDuplicates: s.dropDuplicates,
		Verified:       ok,
	}
}

// Stats snapshots a listIndex's counters.
func (s *listIndex) Stats() IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return IndexStats{
		Ident:          s.ident,
		Kind:           "linkedlist",
		Size:           s.size,
		DropDuplicates: s.dropDuplicates,
		Verified:       true,
	}
}
