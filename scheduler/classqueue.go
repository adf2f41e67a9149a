package scheduler

// classQueue is the FIFO of work items waiting for a single interference
// class.
type classQueue struct {
	id    int64
	items []*workItem
}

func (q *classQueue) push(w *workItem) { q.items = append(q.items, w) }

func (q *classQueue) pop() *workItem {
	if len(q.items) == 0 {
		return nil
	}
	w := q.items[0]
	q.items = q.items[1:]
	return w
}

func (q *classQueue) empty() bool { return len(q.items) == 0 }

// classNode is one node of classTree, a red-black tree keyed by class id
// whose leaves are per-class FIFO queues. It is a direct, minimized
// adaptation of the top-down left-leaning red-black tree in the package
// root's rbtree.go: same link-array shape, same colour-flip-then-rotate
// descent, specialised to an int64 key and a *classQueue payload instead of
// a Comparator-ordered Handle, since the scheduler's class ids are already
// totally ordered integers with no duplicate-subtree case to support.
type classNode struct {
	link  [2]*classNode
	red   bool
	id    int64
	queue *classQueue
}

func isRed(n *classNode) bool { return n != nil && n.red }

func singleRotation(root *classNode, dir int) *classNode {
	save := root.link[1-dir]
	root.link[1-dir] = save.link[dir]
	save.link[dir] = root
	root.red = true
	save.red = false
	return save
}

func doubleRotation(root *classNode, dir int) *classNode {
	root.link[1-dir] = singleRotation(root.link[1-dir], 1-dir)
	return singleRotation(root, dir)
}

// classTree is a top-down LLRB map from interference class id to its
// classQueue, synthesizing an empty queue on first use.
type classTree struct {
	root  *classNode
	count int
}

// getOrCreate returns the queue for id, inserting a new empty one via the
// same top-down insertion descent as rbtree.go's rbInsert if none exists
// yet.
func (t *classTree) getOrCreate(id int64) *classQueue {
	if existing := t.find(id); existing != nil {
		return existing.queue
	}

	if t.root == nil {
		q := &classQueue{id: id}
		t.root = &classNode{id: id, queue: q}
		t.count++
		return q
	}

	var head classNode
	head.link[1] = t.root

	var g, p *classNode
	gg := &head
	q := t.root
	dir, last := 0, 0

	var found *classNode
	for {
		created := false
		if q == nil {
			q = &classNode{id: id, red: true}
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
			found = q
			break
		}
		if id == q.id {
			found = q
			break
		}

		last = dir
		if id < q.id {
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

	t.root = head.link[1]
	t.root.red = false

	if found.queue == nil {
		found.queue = &classQueue{id: id}
		t.count++
	}
	return found.queue
}

func (t *classTree) find(id int64) *classNode {
	n := t.root
	for n != nil {
		switch {
		case id == n.id:
			return n
		case id < n.id:
			n = n.link[0]
		default:
			n = n.link[1]
		}
	}
	return nil
}

// popFirst removes and returns the head work item of the non-empty
// classQueue with the smallest class id, deleting that queue's tree node
// once it has drained so the tree doesn't grow without bound across the
// life of a long-running scheduler.
func (t *classTree) popFirst() (*workItem, bool) {
	candidate := firstNonEmpty(t.root)
	if candidate == nil {
		return nil, false
	}
	w := candidate.queue.pop()
	if candidate.queue.empty() {
		t.root, _ = classTreeDelete(t.root, candidate.id)
		t.count--
	}
	return w, true
}

// firstNonEmpty walks the tree in ascending id order and returns the first
// node whose queue is non-empty, or nil if every queue is drained.
func firstNonEmpty(root *classNode) *classNode {
	var stack []*classNode
	n := root
	for n != nil || len(stack) > 0 {
		for n != nil {
			stack = append(stack, n)
			n = n.link[0]
		}
		n = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !n.queue.empty() {
			return n
		}
		n = n.link[1]
	}
	return nil
}

func classTreeDelete(root *classNode, id int64) (*classNode, bool) {
	if root == nil {
		return nil, false
	}

	var head classNode
	head.link[1] = root
	var g, p *classNode
	q := &head
	var f *classNode
	dir := 1

	for q.link[dir] != nil {
		last := dir
		g, p = p, q
		q = q.link[dir]
		// Forced right once the target is found, ending on the in-order
		// predecessor whose id/queue replace the target's at splice time.
		switch {
		case f != nil || id > q.id:
			dir = 1
		default:
			dir = 0
		}
		if f == nil && id == q.id {
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
		f.id = q.id
		f.queue = q.queue
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

// hasWork reports whether any class queue currently holds an item, without
// mutating the tree.
func (t *classTree) hasWork() bool {
	return firstNonEmpty(t.root) != nil
}
