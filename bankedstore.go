package odb

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// bankedStore implements DataStore in banked (direct) mode: records live in
// fixed-capacity banks, addressed as bank[i/cap][i%cap]. Each bank is a
// []*record rather than a raw byte buffer, since a Handle already wraps a
// stable *record. "Compaction" is reassigning which *record a slot points
// at instead of a memmove.
type bankedStore struct {
	*storeBase

	recordLen int
	bankCap   int
	// indirect, when true, means Add stores the caller's slice by
	// reference (ModeBankedIndirect) instead of copying it
	// (ModeBanked): the caller retains ownership and must not mutate it
	// afterward.
	indirect bool

	banks [][]*record // banks[bankIdx][slotIdx]
	count int         // live record count (data_count)

	freeList []bankSlot // free slots available for reuse, LIFO
	posA     int        // current bank index for append
	posB     int        // current byte/slot offset within posA

	timestampFn func() time.Time
}

type bankSlot struct {
	bankIdx int
	slotIdx int
}

func (s *bankedStore) newBank() {
	s.banks = append(s.banks, make([]*record, s.bankCap))
	s.posA = len(s.banks) - 1
	s.posB = 0
	s.opts.Logger.Debugw("odb: banked store grew", "banks", len(s.banks), "bankCapacity", s.bankCap)
}

func (s *bankedStore) Add(bytes []byte) (Handle, error) {
	return s.add(bytes, len(bytes))
}

func (s *bankedStore) AddVariable(bytes []byte, lf LengthFunc) (Handle, error) {
	n := lf(bytes) // called exactly once
	return s.add(bytes, n)
}

func (s *bankedStore) add(bytes []byte, n int) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.MaxRecords > 0 && int64(s.count) >= s.opts.MaxRecords {
		return NullHandle, newAllocationFailure(errors.Errorf("odb: banked store at capacity (%d records)", s.opts.MaxRecords))
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
		rec.timestamp = s.timestampFn().Unix()
	}
	s.place(rec)

	h := Handle{rec: rec}
	s.publish(h)
	return h, nil
}

// place assigns rec a slot, preferring free-list reuse over advancing the
// append cursor, and caches the slot coordinates on rec. Caller holds s.mu.
func (s *bankedStore) place(rec *record) {
	if len(s.freeList) > 0 {
		slot := s.freeList[len(s.freeList)-1]
		s.freeList = s.freeList[:len(s.freeList)-1]
		s.banks[slot.bankIdx][slot.slotIdx] = rec
		rec.bankIdx, rec.slotIdx = slot.bankIdx, slot.slotIdx
	} else {
		if len(s.banks) == 0 || s.posB >= s.bankCap {
			s.newBank()
		}
		s.banks[s.posA][s.posB] = rec
		rec.bankIdx, rec.slotIdx = s.posA, s.posB
		s.posB++
	}
	s.count++
}

// GetAddr allocates the next free slot with a zeroed payload of the store's
// record length and returns its handle without publishing it to any index:
// it is the raw allocation primitive Add itself builds on, for callers that
// fill the slot in place.
func (s *bankedStore) GetAddr() (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.MaxRecords > 0 && int64(s.count) >= s.opts.MaxRecords {
		return NullHandle, newAllocationFailure(errors.Errorf("odb: banked store at capacity (%d records)", s.opts.MaxRecords))
	}
	rec := &record{bytes: make([]byte, s.recordLen), seq: s.nextSeq()}
	if s.expiry > 0 {
		rec.timestamp = s.timestampFn().Unix()
	}
	s.place(rec)
	return Handle{rec: rec}, nil
}

func (s *bankedStore) GetAt(i int) Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 {
		return NullHandle
	}
	bankIdx, slotIdx := i/s.bankCap, i%s.bankCap
	if bankIdx < 0 || bankIdx >= len(s.banks) {
		return NullHandle
	}
	rec := s.banks[bankIdx][slotIdx]
	if rec == nil || rec.Removed() {
		return NullHandle
	}
	return Handle{rec: rec}
}

// RemoveAddr logically removes h and immediately places its slot on the
// free list: the slot's bank/index coordinates were cached on rec at
// placement time, so this is O(1) rather than a bank scan. Attached
// indexes are not notified, and RemoveSweep skips the freed slot, so no
// later sweep notifies them either: an index keeps reporting h until h is
// removed from that index directly. The index holds the *record itself,
// so reuse of the freed slot does not change what it reports.
func (s *bankedStore) RemoveAddr(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !h.Valid() || h.Removed() {
		return false
	}
	bi, si := h.rec.bankIdx, h.rec.slotIdx
	if bi >= 0 && bi < len(s.banks) && si >= 0 && si < len(s.banks[bi]) && s.banks[bi][si] == h.rec {
		s.banks[bi][si] = nil
		s.freeList = append(s.freeList, bankSlot{bi, si})
	}
	h.markRemoved()
	s.count--
	return true
}

type bankSlotRef struct {
	bankIdx, slotIdx int
	rec              *record
}

// RemoveSweep scans every occupied slot for the prune condition and, for
// each hit, pairs it with the live record currently occupying the highest
// slot index not itself pruned this pass (compaction from the tail).
// Already-freed slots are skipped. A signed cursor is used throughout so
// the tail scan can run past index 0 without wrapping.
//
// The per-bank scan is read-only and banks never alias each other's slots,
// so it fans out across s.opts.Cores goroutines, one at a time per bank,
// bounded by a weighted semaphore rather than one goroutine per bank.
func (s *bankedStore) RemoveSweep() []SweepMark {
	s.mu.RLock()
	cond := s.pruneCondition()
	if cond == nil {
		s.mu.RUnlock()
		return nil
	}

	liveByBank := make([][]bankSlotRef, len(s.banks))
	pruneByBank := make([][]bankSlotRef, len(s.banks))

	cores := s.opts.Cores
	if cores < 1 {
		cores = 1
	}
	sem := semaphore.NewWeighted(int64(cores))
	var wg sync.WaitGroup
	for bi := range s.banks {
		bi := bi
		_ = sem.Acquire(context.Background(), 1) // background ctx never errors
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			var live, prune []bankSlotRef
			for si, rec := range s.banks[bi] {
				if rec == nil || rec.Removed() {
					continue
				}
				h := Handle{rec: rec}
				if cond.Eval(h) {
					prune = append(prune, bankSlotRef{bi, si, rec})
				} else {
					live = append(live, bankSlotRef{bi, si, rec})
				}
			}
			liveByBank[bi] = live
			pruneByBank[bi] = prune
		}()
	}
	wg.Wait()
	s.mu.RUnlock()

	var live, pruneSet []bankSlotRef
	for bi := range liveByBank {
		live = append(live, liveByBank[bi]...)
		pruneSet = append(pruneSet, pruneByBank[bi]...)
	}

	if len(pruneSet) == 0 {
		return nil
	}

	marks := make([]SweepMark, 0, len(pruneSet))
	// Pull replacements from the tail of the surviving-live set, signed
	// cursor walking backward so it naturally stops at -1 rather than
	// wrapping.
	cursor := int64(len(live)) - 1
	for _, p := range pruneSet {
		old := Handle{rec: p.rec}
		oldSlot := bankSlot{p.bankIdx, p.slotIdx}
		var replacement Handle
		var replacementSlot bankSlot
		for cursor >= 0 {
			cand := live[cursor]
			cursor--
			if cand.bankIdx == p.bankIdx && cand.slotIdx == p.slotIdx {
				continue
			}
			replacement = Handle{rec: cand.rec}
			replacementSlot = bankSlot{cand.bankIdx, cand.slotIdx}
			break
		}
		marks = append(marks, SweepMark{Old: old, Replacement: replacement, oldSlot: oldSlot, replacementSlot: replacementSlot})
	}
	return marks
}

// RemoveCleanup addresses storage directly via the slot coordinates each
// mark already carries from RemoveSweep, rather than re-scanning every bank
// for a pointer match. A mark whose old slot no longer holds m.Old (because
// a prior RemoveCleanup call already compacted it) is skipped, which is
// what makes a second RemoveCleanup over the same marks a no-op.
func (s *bankedStore) RemoveCleanup(marks []SweepMark) {
	if len(marks) == 0 {
		return
	}
	s.opts.Logger.Debugw("odb: banked store sweep cleanup", "pruned", len(marks))
	s.archiveSwept(marks)
	s.mu.Lock()
	pruned := 0
	for _, m := range marks {
		bi, si := m.oldSlot.bankIdx, m.oldSlot.slotIdx
		if bi < 0 || bi >= len(s.banks) || si < 0 || si >= len(s.banks[bi]) || s.banks[bi][si] != m.Old.rec {
			continue
		}
		rbi, rsi := m.replacementSlot.bankIdx, m.replacementSlot.slotIdx
		replacementLive := m.Replacement.Valid() &&
			rbi >= 0 && rbi < len(s.banks) && rsi >= 0 && rsi < len(s.banks[rbi]) && s.banks[rbi][rsi] == m.Replacement.rec
		if replacementLive {
			s.banks[bi][si] = m.Replacement.rec
			m.Replacement.rec.bankIdx, m.Replacement.rec.slotIdx = bi, si
			s.banks[rbi][rsi] = nil
			s.freeList = append(s.freeList, bankSlot{rbi, rsi})
		} else {
			// Either there was no replacement, or the replacement's own slot
			// no longer holds it (RemoveAddr freed it and a concurrent Add
			// reused that slot between RemoveSweep and RemoveCleanup):
			// relocating it here would evict whatever new record now
			// occupies rbi,rsi and double-free the slot. Fall back to
			// freeing just the old slot.
			s.banks[bi][si] = nil
			s.freeList = append(s.freeList, bankSlot{bi, si})
		}
		m.Old.markRemoved()
		pruned++
	}
	s.count -= pruned
	s.mu.Unlock()
	s.notifyIndexes(marks)
}

func (s *bankedStore) Populate(idx Index) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.populateLocked(idx)
}

func (s *bankedStore) populateLocked(idx Index) {
	for bi := range s.banks {
		for _, rec := range s.banks[bi] {
			if rec == nil || rec.Removed() {
				continue
			}
			idx.AddFast(Handle{rec: rec})
		}
	}
}

// Attach holds the writer lock across registration and populate so a
// concurrent Add can't publish to the new index mid-populate and leave a
// handle double-added.
func (s *bankedStore) Attach(idx Index) {
	s.mu.Lock()
	s.indexes = append(s.indexes, idx)
	s.populateLocked(idx)
	s.mu.Unlock()
}

func (s *bankedStore) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(s.count)
}

func (s *bankedStore) Stats() DataStoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DataStoreStats{
		Mode:       "banked",
		Size:       uint64(s.count),
		Banks:      len(s.banks),
		FreeSlots:  len(s.freeList),
		IndexCount: len(s.indexes),
	}
}

func (s *bankedStore) Close() error {
	s.stopSweeper()
	return nil
}
