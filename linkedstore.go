package odb

import (
	"time"

	"github.com/pkg/errors"
)

// linkedStore implements DataStore in linked-list mode: each record is its
// own node on a singly-linked chain; logical removal is tracked on the node
// itself rather than compacted into a free list. No slot relocation ever happens, so RemoveSweep's marks always
// carry a NullHandle replacement.
type linkedStore struct {
	*storeBase

	// indirect, when true, means Add stores the caller's slice by
	// reference (ModeLinkedListIndirect) instead of copying it
	// (ModeLinkedList): the caller retains ownership and must not mutate
	// it afterward.
	indirect bool

	head  *record
	tail  *record
	count int
}

func (s *linkedStore) Add(bytes []byte) (Handle, error) {
	return s.add(bytes, len(bytes))
}

func (s *linkedStore) AddVariable(bytes []byte, lf LengthFunc) (Handle, error) {
	n := lf(bytes)
	return s.add(bytes, n)
}

func (s *linkedStore) add(bytes []byte, n int) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.MaxRecords > 0 && int64(s.count) >= s.opts.MaxRecords {
		return NullHandle, newAllocationFailure(errors.Errorf("odb: linked store at capacity (%d records)", s.opts.MaxRecords))
	}

	var buf []byte
	if s.indirect {
		buf = bytes[:n]
	} else {
		buf = make([]byte, n)
		copy(buf, bytes[:n])
	}
	rec := &record{bytes: buf, seq: s.nextSeq()}
	if s.expiry > 0 {
		rec.timestamp = time.Now().Unix()
	}

	if s.tail == nil {
		s.head, s.tail = rec, rec
	} else {
		s.tail.next = rec
		s.tail = rec
	}
	s.count++

	h := Handle{rec: rec}
	s.publish(h)
	return h, nil
}

// GetAt is not a meaningful operation for an unordered chain in linked
// mode; it returns NullHandle always, since positional access only makes
// sense for banked stores.
func (s *linkedStore) GetAt(int) Handle { return NullHandle }

// GetAddr is banked-only; a chain node has no slot to pre-allocate.
func (s *linkedStore) GetAddr() (Handle, error) { return NullHandle, nil }

func (s *linkedStore) RemoveAddr(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !h.Valid() || h.Removed() {
		return false
	}
	h.markRemoved()
	s.count--
	return true
}

func (s *linkedStore) RemoveSweep() []SweepMark {
	s.mu.RLock()
	cond := s.pruneCondition()
	if cond == nil {
		s.mu.RUnlock()
		return nil
	}
	var marks []SweepMark
	for rec := s.head; rec != nil; rec = rec.next {
		if rec.Removed() {
			continue
		}
		h := Handle{rec: rec}
		if cond.Eval(h) {
			marks = append(marks, SweepMark{Old: h, Replacement: NullHandle})
		}
	}
	s.mu.RUnlock()
	return marks
}

// RemoveCleanup unlinks each pruned node from the chain and notifies every
// attached index. No relocation occurs in linked mode.
func (s *linkedStore) RemoveCleanup(marks []SweepMark) {
	if len(marks) == 0 {
		return
	}
	s.opts.Logger.Debugw("odb: linked store sweep cleanup", "pruned", len(marks))
	s.archiveSwept(marks)
	pruned := make(map[*record]bool, len(marks))
	for _, m := range marks {
		pruned[m.Old.rec] = true
	}

	s.mu.Lock()
	var newHead, newTail *record
	removed := 0
	for rec := s.head; rec != nil; {
		next := rec.next
		rec.next = nil
		if !pruned[rec] {
			if newTail == nil {
				newHead, newTail = rec, rec
			} else {
				newTail.next = rec
				newTail = rec
			}
		} else {
			rec.markRemoved()
			removed++
		}
		rec = next
	}
	s.head, s.tail = newHead, newTail
	s.count -= removed
	s.mu.Unlock()

	s.notifyIndexes(marks)
}

func (s *linkedStore) Populate(idx Index) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.populateLocked(idx)
}

func (s *linkedStore) populateLocked(idx Index) {
	for rec := s.head; rec != nil; rec = rec.next {
		if rec.Removed() {
			continue
		}
		idx.AddFast(Handle{rec: rec})
	}
}

// Attach holds the writer lock across registration and populate so a
// concurrent Add can't publish to the new index mid-populate and leave a
// handle double-added.
func (s *linkedStore) Attach(idx Index) {
	s.mu.Lock()
	s.indexes = append(s.indexes, idx)
	s.populateLocked(idx)
	s.mu.Unlock()
}

func (s *linkedStore) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(s.count)
}

func (s *linkedStore) Stats() DataStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DataStoreStats{
		Mode:       "linked-list",
		Size:       uint64(s.count),
		IndexCount: len(s.indexes),
	}
}

func (s *linkedStore) Close() error {
	s.stopSweeper()
	return nil
}
