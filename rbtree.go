package odb

import "sync"

// rbNode is a node of a top-down left-leaning red-black tree. Colour and
// the duplicate-subtree discriminant are kept as an explicit flags field
// rather than packed into pointer bits, since Go offers no raw pointer
// arithmetic.
//
// link[0] is the left child, link[1] the right child, kept as an array
// rather than named fields so the top-down insertion/deletion algorithms
// below can stay symmetric in dir/1-dir.
type rbNode struct {
	link [2]*rbNode
	red  bool

	// dup, when true, means this node no longer holds a single handle
	// directly: key is retained only as a representative for outer-tree
	// comparisons, and dupRoot is the root of an embedded RBT (keyed by
	// addressComparator) holding every handle with this key.
	dup     bool
	key     Handle
	dupRoot *rbNode
}

func isRed(n *rbNode) bool { return n != nil && n.red }

// singleRotation rotates root in the direction dir (0 = left rotation
// bringing up the right child, 1 = right rotation bringing up the left
// child).
func singleRotation(root *rbNode, dir int) *rbNode {
	save := root.link[1-dir]
	root.link[1-dir] = save.link[dir]
	save.link[dir] = root
	root.red = true
	save.red = false
	return save
}

// doubleRotation rotates root's 1-dir child away from root, followed by a
// rotation of root itself.
func doubleRotation(root *rbNode, dir int) *rbNode {
	root.link[1-dir] = singleRotation(root.link[1-dir], 1-dir)
	return singleRotation(root, dir)
}

// rbInsert performs a single top-down descent: colour-flip any node with
// two red children on the way down, repair any red-red violation against
// the great-grandparent via a single or double rotation, and attach the
// new node at the leaf. It returns the new root and whether the tree's
// cardinality changed.
//
// onDuplicate is invoked when a node with Compare(target, node.key) == 0
// is encountered that was NOT just created by this call (i.e. a true
// pre-existing duplicate key); it returns whether the call should count
// as a cardinality change. A nil onDuplicate rejects duplicates outright.
func rbInsert(root *rbNode, target Handle, cmp Comparator, onDuplicate func(existing *rbNode) bool) (*rbNode, bool) {
	if root == nil {
		return &rbNode{key: target}, true
	}

	var head rbNode
	head.link[1] = root

	gg := &head // great-grandparent
	var g, p *rbNode
	q := root
	dir, last := 0, 0
	changed := true

	for {
		created := false
		if q == nil {
			q = &rbNode{key: target, red: true}
			p.link[dir] = q
			created = true
		} else if isRed(q.link[0]) && isRed(q.link[1]) {
			q.red = true
			q.link[0].red = false
			q.link[1].red = false
		}

		if isRed(q) && isRed(p) {
			dir2 := 0
			if gg.link[1] == g {
				dir2 = 1
			}
			if q == p.link[last] {
				gg.link[dir2] = singleRotation(g, 1-last)
			} else {
				gg.link[dir2] = doubleRotation(g, 1-last)
			}
		}

		if created {
			break
		}

		c := cmp.Compare(target, q.key)
		if c == 0 {
			if onDuplicate != nil {
				changed = onDuplicate(q)
			} else {
				changed = false
			}
			break
		}

		last = dir
		if c < 0 {
			dir = 0
		} else {
			dir = 1
		}

		if g != nil {
			gg = g
		}
		g = p
		p = q
		q = q.link[dir]
	}

	root = head.link[1]
	root.red = false
	return root, changed
}

// rbDelete performs a single top-down descent: push a red node downward
// along the search path so the target, if present, is always deleted
// from a red node, then splice it out. Once the target is found, the
// comparison is forced positive so the walk takes one step left and then
// descends right to the bottom — the in-order predecessor, whose payload
// replaces the target's at splice time. It returns the new root and
// whether anything was removed.
func rbDelete(root *rbNode, target Handle, cmp Comparator) (*rbNode, bool) {
	if root == nil {
		return nil, false
	}

	var head rbNode
	head.link[1] = root
	var g, p *rbNode
	q := &head
	var f *rbNode // found node, if any
	dir := 1

	for q.link[dir] != nil {
		last := dir
		g, p = p, q
		q = q.link[dir]
		c := 1
		if f == nil {
			c = cmp.Compare(target, q.key)
		}
		if c > 0 {
			dir = 1
		} else {
			dir = 0
		}
		if c == 0 {
			f = q
		}

		if !isRed(q) && !isRed(q.link[dir]) {
			if isRed(q.link[1-dir]) {
				p.link[last] = singleRotation(q, dir)
				p = p.link[last]
			} else if s := p.link[1-last]; s != nil {
				if !isRed(s.link[1-last]) && !isRed(s.link[last]) {
					p.red = false
					s.red = true
					q.red = true
				} else {
					dir2 := 0
					if g.link[1] == p {
						dir2 = 1
					}
					if isRed(s.link[last]) {
						g.link[dir2] = doubleRotation(p, last)
					} else if isRed(s.link[1-last]) {
						g.link[dir2] = singleRotation(p, last)
					}
					q.red = true
					g.link[dir2].red = true
					g.link[dir2].link[0].red = false
					g.link[dir2].link[1].red = false
				}
			}
		}
	}

	changed := false
	if f != nil {
		f.key = q.key
		f.dup = q.dup
		f.dupRoot = q.dupRoot
		childIdx := 0
		if q.link[0] == nil {
			childIdx = 1
		}
		if p.link[1] == q {
			p.link[1] = q.link[childIdx]
		} else {
			p.link[0] = q.link[childIdx]
		}
		changed = true
	}

	root = head.link[1]
	if root != nil {
		root.red = false
	}
	return root, changed
}

func rbFind(n *rbNode, h Handle, cmp Comparator) *rbNode {
	for n != nil {
		c := cmp.Compare(h, n.key)
		switch {
		case c == 0:
			return n
		case c < 0:
			n = n.link[0]
		default:
			n = n.link[1]
		}
	}
	return nil
}

// rbVerify checks the tree invariant: no two consecutive reds, BST order
// with respect to cmp (recursing into duplicate subtrees with
// addressComparator), and equal black-height on both sides of every node.
func rbVerify(n *rbNode, cmp Comparator) (blackHeight int, ok bool) {
	if n == nil {
		return 1, true
	}
	if isRed(n) && (isRed(n.link[0]) || isRed(n.link[1])) {
		return 0, false
	}
	lh, lok := rbVerify(n.link[0], cmp)
	rh, rok := rbVerify(n.link[1], cmp)
	if !lok || !rok || lh != rh {
		return 0, false
	}
	if n.link[0] != nil && cmp.Compare(n.link[0].key, n.key) >= 0 {
		return 0, false
	}
	if n.link[1] != nil && cmp.Compare(n.link[1].key, n.key) <= 0 {
		return 0, false
	}
	if n.dup {
		if n.dupRoot == nil {
			return 0, false
		}
		if _, dok := rbVerify(n.dupRoot, addressComparator); !dok {
			return 0, false
		}
	}
	bh := lh
	if !n.red {
		bh++
	}
	return bh, true
}

// inorderWalk visits every handle in ascending comparator order, expanding
// duplicate subtrees in address order, stopping early if visit returns
// false. It reports whether the walk completed without being stopped.
func inorderWalk(n *rbNode, visit func(Handle) bool) bool {
	if n == nil {
		return true
	}
	if !inorderWalk(n.link[0], visit) {
		return false
	}
	if n.dup {
		if !inorderWalk(n.dupRoot, visit) {
			return false
		}
	} else if !visit(n.key) {
		return false
	}
	return inorderWalk(n.link[1], visit)
}

// reverseInorderWalk is inorderWalk's mirror, visiting in descending order.
func reverseInorderWalk(n *rbNode, visit func(Handle) bool) bool {
	if n == nil {
		return true
	}
	if !reverseInorderWalk(n.link[1], visit) {
		return false
	}
	if n.dup {
		if !reverseInorderWalk(n.dupRoot, visit) {
			return false
		}
	} else if !visit(n.key) {
		return false
	}
	return reverseInorderWalk(n.link[0], visit)
}

// rbTreeIndex is the RedBlackTreeI Index implementation.
type rbTreeIndex struct {
	mu             sync.RWMutex
	ident          int64
	cmp            Comparator
	merger         Merger
	dropDuplicates bool
	root           *rbNode
	size           uint64
}

// NewRedBlackTreeIndex creates an Index backed by a top-down left-leaning
// red-black tree. When dropDuplicates is false, a second handle with an
// equal key (per cmp) is retained in an embedded duplicate subtree rather
// than merged or rejected.
func NewRedBlackTreeIndex(ident int64, cmp Comparator, merger Merger, dropDuplicates bool) Index {
	return &rbTreeIndex{ident: ident, cmp: cmp, merger: merger, dropDuplicates: dropDuplicates}
}

func (s *rbTreeIndex) Ident() int64 { return s.ident }

func (s *rbTreeIndex) insert(h Handle) bool {
	onDup := func(existing *rbNode) bool {
		if s.dropDuplicates {
			if s.merger != nil {
				existing.key = s.merger.Merge(h, existing.key)
			}
			return false
		}
		if !existing.dup {
			if sameHandle(existing.key, h) {
				return false // the same handle re-added, not a new duplicate
			}
			root, _ := rbInsert(nil, existing.key, addressComparator, nil)
			root, _ = rbInsert(root, h, addressComparator, nil)
			existing.dup = true
			existing.dupRoot = root
			return true
		}
		newDupRoot, changed := rbInsert(existing.dupRoot, h, addressComparator, func(*rbNode) bool {
			return false // identical handle re-inserted, not a new entry
		})
		existing.dupRoot = newDupRoot
		return changed
	}

	newRoot, changed := rbInsert(s.root, h, s.cmp, onDup)
	s.root = newRoot
	if changed {
		s.size++
	}
	return changed
}

func (s *rbTreeIndex) Add(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(h)
}

// AddFast skips locking: it is only safe when the caller (DataStore.Populate
// or DataStore.Attach) already holds the store's lock and no other
// goroutine can reach this index concurrently.
func (s *rbTreeIndex) AddFast(h Handle) bool {
	return s.insert(h)
}

func (s *rbTreeIndex) remove(h Handle) bool {
	node := rbFind(s.root, h, s.cmp)
	if node == nil {
		return false
	}
	if !node.dup {
		if !sameHandle(node.key, h) {
			return false
		}
		newRoot, changed := rbDelete(s.root, h, s.cmp)
		s.root = newRoot
		if changed {
			s.size--
		}
		return changed
	}

	// Match by compare == 0 AND handle identity, which addressComparator
	// already gives us since it orders by a unique allocation sequence
	// number.
	newDupRoot, removed := rbDelete(node.dupRoot, h, addressComparator)
	if !removed {
		return false
	}
	node.dupRoot = newDupRoot
	s.size--
	if node.dupRoot == nil {
		newRoot, _ := rbDelete(s.root, node.key, s.cmp)
		s.root = newRoot
	} else {
		node.dup = true
	}
	return true
}

func (s *rbTreeIndex) Remove(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(h)
}

func (s *rbTreeIndex) Purge() {
	s.mu.Lock()
	s.root = nil
	s.size = 0
	s.mu.Unlock()
}

func (s *rbTreeIndex) Size() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *rbTreeIndex) Query(cond Condition, sink QuerySink) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inorderWalk(s.root, func(h Handle) bool {
		if cond == nil || cond.Eval(h) {
			return sink(h)
		}
		return true
	})
}

func (s *rbTreeIndex) QueryEq(h Handle, sink QuerySink) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := rbFind(s.root, h, s.cmp)
	if n == nil {
		return
	}
	if n.dup {
		inorderWalk(n.dupRoot, sink)
		return
	}
	sink(n.key)
}

func (s *rbTreeIndex) QueryLt(h Handle, sink QuerySink) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reverseInorderWalk(s.root, func(k Handle) bool {
		if s.cmp.Compare(k, h) < 0 {
			return sink(k)
		}
		return true
	})
}

func (s *rbTreeIndex) QueryGt(h Handle, sink QuerySink) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inorderWalk(s.root, func(k Handle) bool {
		if s.cmp.Compare(k, h) > 0 {
			return sink(k)
		}
		return true
	})
}

func (s *rbTreeIndex) snapshot() []Handle {
	var items []Handle
	inorderWalk(s.root, func(h Handle) bool {
		items = append(items, h)
		return true
	})
	return items
}

func (s *rbTreeIndex) ItFirst() Iterator {
	s.mu.RLock()
	return newSnapshotIterator(&s.mu, s.cmp, s.snapshot(), -1)
}

func (s *rbTreeIndex) ItLast() Iterator {
	s.mu.RLock()
	items := s.snapshot()
	return newSnapshotIterator(&s.mu, s.cmp, items, len(items))
}

func (s *rbTreeIndex) ItLookup(h Handle, dir Dir) Iterator {
	s.mu.RLock()
	it := newSnapshotIterator(&s.mu, s.cmp, s.snapshot(), -1)
	it.seek(h, dir)
	return it
}

func (s *rbTreeIndex) RemoveSweep(marks []SweepMark) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range marks {
		s.remove(m.Old)
	}
}

func (s *rbTreeIndex) Update(olds, news []Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range olds {
		s.remove(olds[i])
		if i < len(news) && news[i].Valid() {
			s.insert(news[i])
		}
	}
}

// Verify exposes rbt_verify for tests; it
// is not part of the Index interface since it is specific to the RBT
// implementation.
func (s *rbTreeIndex) Verify() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := rbVerify(s.root, s.cmp)
	return ok
}

func sameHandle(a, b Handle) bool { return a.rec == b.rec }
