package odb

import "sync"

// llNode is one node of a listIndex's sorted chain.
type llNode struct {
	key  Handle
	next *llNode
}

// listIndex is the LinkedListI Index implementation: a single sorted
// singly-linked list kept in comparator order. Duplicate
// policy: merge via Merger if set; otherwise drop if dropDuplicates, else
// insert after the run of comparator-equal nodes (so iteration yields
// duplicates in insertion order).
type listIndex struct {
	mu             sync.RWMutex
	ident          int64
	cmp            Comparator
	merger         Merger
	dropDuplicates bool
	head           *llNode
	size           uint64
}

// NewLinkedListIndex creates an Index backed by a sorted singly-linked
// list, the simplest concrete Index.
func NewLinkedListIndex(ident int64, cmp Comparator, merger Merger, dropDuplicates bool) Index {
	return &listIndex{ident: ident, cmp: cmp, merger: merger, dropDuplicates: dropDuplicates}
}

func (s *listIndex) Ident() int64 { return s.ident }

func (s *listIndex) insert(h Handle) bool {
	var prev *llNode
	n := s.head
	for n != nil {
		c := s.cmp.Compare(h, n.key)
		if c < 0 {
			break
		}
		if c == 0 {
			if s.merger != nil {
				n.key = s.merger.Merge(h, n.key)
				return false
			}
			if s.dropDuplicates {
				return false
			}
			// Advance past this and every further comparator-equal node so
			// the new duplicate lands after the last one already in the
			// run, preserving insertion order.
			for n != nil && s.cmp.Compare(h, n.key) == 0 {
				prev, n = n, n.next
			}
			break
		}
		prev, n = n, n.next
	}

	node := &llNode{key: h, next: n}
	if prev == nil {
		s.head = node
	} else {
		prev.next = node
	}
	s.size++
	return true
}

func (s *listIndex) Add(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(h)
}

func (s *listIndex) AddFast(h Handle) bool { return s.insert(h) }

func (s *listIndex) remove(h Handle) bool {
	var prev *llNode
	n := s.head
	for n != nil {
		if sameHandle(n.key, h) {
			if prev == nil {
				s.head = n.next
			} else {
				prev.next = n.next
			}
			s.size--
			return true
		}
		prev, n = n, n.next
	}
	return false
}

func (s *listIndex) Remove(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(h)
}

// Purge drops all nodes by clearing head. Go's GC reclaims them; there is
// no walk and no explicit free to call.
func (s *listIndex) Purge() {
	s.mu.Lock()
	s.head = nil
	s.size = 0
	s.mu.Unlock()
}

func (s *listIndex) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *listIndex) Query(cond Condition, sink QuerySink) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for n := s.head; n != nil; n = n.next {
		if cond != nil && !cond.Eval(n.key) {
			continue
		}
		if !sink(n.key) {
			return
		}
	}
}

func (s *listIndex) QueryEq(h Handle, sink QuerySink) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for n := s.head; n != nil; n = n.next {
		c := s.cmp.Compare(n.key, h)
		if c > 0 {
			return
		}
		if c == 0 && !sink(n.key) {
			return
		}
	}
}

func (s *listIndex) QueryLt(h Handle, sink QuerySink) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matches []Handle
	for n := s.head; n != nil; n = n.next {
		if s.cmp.Compare(n.key, h) >= 0 {
			break
		}
		matches = append(matches, n.key)
	}
	for i := len(matches) - 1; i >= 0; i-- {
		if !sink(matches[i]) {
			return
		}
	}
}

func (s *listIndex) QueryGt(h Handle, sink QuerySink) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for n := s.head; n != nil; n = n.next {
		if s.cmp.Compare(n.key, h) > 0 && !sink(n.key) {
			return
		}
	}
}

func (s *listIndex) snapshot() []Handle {
	items := make([]Handle, 0, s.size)
	for n := s.head; n != nil; n = n.next {
		items = append(items, n.key)
	}
	return items
}

func (s *listIndex) ItFirst() Iterator {
	s.mu.RLock()
	return newSnapshotIterator(&s.mu, s.cmp, s.snapshot(), -1)
}

func (s *listIndex) ItLast() Iterator {
	s.mu.RLock()
	items := s.snapshot()
	return newSnapshotIterator(&s.mu, s.cmp, items, len(items))
}

func (s *listIndex) ItLookup(h Handle, dir Dir) Iterator {
	s.mu.RLock()
	it := newSnapshotIterator(&s.mu, s.cmp, s.snapshot(), -1)
	it.seek(h, dir)
	return it
}

// RemoveSweep removes every marked handle. A map of the pruned handles
// gives O(1)-per-node lookup while walking the list once.
func (s *listIndex) RemoveSweep(marks []SweepMark) {
	if len(marks) == 0 {
		return
	}
	pruned := make(map[*record]bool, len(marks))
	for _, m := range marks {
		pruned[m.Old.rec] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var head, tail *llNode
	for n := s.head; n != nil; {
		next := n.next
		if pruned[n.key.rec] {
			s.size--
		} else {
			n.next = nil
			if tail == nil {
				head, tail = n, n
			} else {
				tail.next = n
				tail = n
			}
		}
		n = next
	}
	s.head = head
}

func (s *listIndex) Update(olds, news []Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range olds {
		s.remove(olds[i])
		if i < len(news) && news[i].Valid() {
			s.insert(news[i])
		}
	}
}
