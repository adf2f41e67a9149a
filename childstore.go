package odb

import "github.com/pkg/errors"

// errParentClosed is returned by a childStore's mutating operations once
// the child itself has been closed.
var errParentClosed = errors.New("odb: parent datastore closed")

// childStore is a DataStore view whose record storage is entirely
// delegated to parent: it owns no bytes of its own, only its own set of
// attached indexes. See NewChildDataStore's doc comment for the exact
// contract.
type childStore struct {
	*storeBase

	parent DataStore
	closed bool
}

func (s *childStore) Add(bytes []byte) (Handle, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return NullHandle, errParentClosed
	}
	h, err := s.parent.Add(bytes)
	if err != nil {
		return NullHandle, err
	}
	if !s.publishIfOpen(h) {
		return NullHandle, errParentClosed
	}
	return h, nil
}

func (s *childStore) AddVariable(bytes []byte, lf LengthFunc) (Handle, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return NullHandle, errParentClosed
	}
	h, err := s.parent.AddVariable(bytes, lf)
	if err != nil {
		return NullHandle, err
	}
	if !s.publishIfOpen(h) {
		return NullHandle, errParentClosed
	}
	return h, nil
}

// publishIfOpen calls publish under s.mu, matching bankedStore/linkedStore's
// add() which hold the lock for the entire publish call: s.indexes is read
// by publish and mutated by Attach/Detach, so the two must not race. Reports
// whether the child was still open at the time.
func (s *childStore) publishIfOpen(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.publish(h)
	return true
}

func (s *childStore) GetAt(i int) Handle { return s.parent.GetAt(i) }

func (s *childStore) GetAddr() (Handle, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return NullHandle, errParentClosed
	}
	return s.parent.GetAddr()
}

func (s *childStore) RemoveAddr(h Handle) bool {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return false
	}
	return s.parent.RemoveAddr(h)
}

func (s *childStore) RemoveSweep() []SweepMark {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil
	}
	return s.parent.RemoveSweep()
}

func (s *childStore) RemoveCleanup(marks []SweepMark) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}
	s.parent.RemoveCleanup(marks)
	s.notifyIndexes(marks)
}

// Attach registers idx against the child's own index set and populates it
// from the parent's current live contents, per NewChildDataStore's
// contract: the child's indexes are independent of the parent's. The
// child's lock is held across both steps so a concurrent Add's publish
// can't interleave locked Index.Add calls with the populate-time
// Index.AddFast calls on the same index.
func (s *childStore) Attach(idx Index) {
	s.mu.Lock()
	s.indexes = append(s.indexes, idx)
	s.parent.Populate(idx)
	s.mu.Unlock()
}

func (s *childStore) Populate(idx Index) {
	s.parent.Populate(idx)
}

func (s *childStore) Size() uint64 { return s.parent.Size() }

func (s *childStore) Stats() DataStoreStats {
	stats := s.parent.Stats()
	s.mu.RLock()
	stats.IndexCount = len(s.indexes)
	s.mu.RUnlock()
	return stats
}

// Close marks the child closed. It never closes parent, whose lifetime
// the child is merely bounded by.
func (s *childStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
