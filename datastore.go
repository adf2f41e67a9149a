package odb

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LengthFunc derives the length of a variable-length record's payload. It is
// called exactly once per Add; implementations must not assume it is pure.
type LengthFunc func(bytes []byte) int

// Mode selects a DataStore's storage layout.
type Mode int

const (
	// ModeBanked stores records contiguously inside fixed-size banks, with
	// a free list reclaiming swept slots. Add copies the caller's bytes
	// into storage the datastore owns.
	ModeBanked Mode = iota
	// ModeBankedIndirect has the same bank/free-list geometry as
	// ModeBanked, but each slot holds a reference to a caller-owned
	// payload instead of a copy: Add does not copy bytes, so the caller
	// must not mutate the slice afterward.
	ModeBankedIndirect
	// ModeLinkedList stores each record as its own node on a chain, with
	// logical removal tracked per node rather than compacted. Add copies
	// the caller's bytes.
	ModeLinkedList
	// ModeLinkedListIndirect is ModeLinkedList with the same
	// caller-owns-the-payload contract as ModeBankedIndirect.
	ModeLinkedListIndirect
	// ModeLinkedListVariable is ModeLinkedList for variable-length records:
	// each node is sized to its payload, with the length derived by the
	// LengthFunc handed to AddVariable rather than a fixed record length.
	ModeLinkedListVariable
)

func (m Mode) indirect() bool {
	return m == ModeBankedIndirect || m == ModeLinkedListIndirect
}

func (m Mode) String() string {
	switch m {
	case ModeBanked:
		return "banked"
	case ModeBankedIndirect:
		return "banked-indirect"
	case ModeLinkedList:
		return "linked-list"
	case ModeLinkedListIndirect:
		return "linked-list-indirect"
	case ModeLinkedListVariable:
		return "linked-list-variable"
	default:
		return "unknown"
	}
}

// DataStore owns record bytes and hands out stable Handles. Every attached
// Index is kept consistent with the store's contents: an Add is not
// considered complete until every attached index has observed the new
// handle.
type DataStore interface {
	// Add stores bytes in a new slot (a copy, except in the indirect modes,
	// which keep the caller's slice), stamps it if expiry is enabled, and
	// publishes the resulting handle to every attached index before
	// returning. Returns an *AllocationFailure on exhaustion, leaving the
	// store and all indexes unchanged.
	Add(bytes []byte) (Handle, error)
	// AddVariable is the variable-length counterpart; length is derived by
	// calling lf exactly once.
	AddVariable(bytes []byte, lf LengthFunc) (Handle, error)

	// GetAt returns the handle occupying the given live position, or
	// NullHandle if i is out of range. Banked mode only.
	GetAt(i int) Handle

	// GetAddr allocates the next free slot — free-list reuse first, then
	// the append cursor — and returns its handle with a zeroed payload the
	// caller fills in. The handle is not published to any index; callers
	// that want it indexed add it themselves. Banked mode only; linked
	// stores return NullHandle.
	GetAddr() (Handle, error)

	// RemoveAddr logically removes h: banked mode places its slot on the
	// free list, linked mode marks it removed. Attached indexes are not
	// notified, here or later: RemoveSweep skips removed records, so an
	// index keeps h until Index.Remove or Index.Purge drops it. Reports
	// whether h was live.
	RemoveAddr(h Handle) bool

	// RemoveSweep scans storage for records satisfying the store's prune
	// condition (age-based expiry or a custom Condition) and returns the
	// set of (old, replacement) pairs it pruned, without yet touching any
	// index or reclaiming storage. Calling it twice with no intervening
	// Add is a no-op the second time.
	RemoveSweep() []SweepMark

	// RemoveCleanup applies marks: for banked stores, compacts storage by
	// reassigning the freed slot to the replacement record; for linked
	// stores, unlinks the pruned nodes. Then notifies every attached index
	// via Index.RemoveSweep.
	RemoveCleanup(marks []SweepMark)

	// Attach registers idx and synchronously populates it from the store's
	// current live contents via Index.AddFast.
	Attach(idx Index)
	// Detach unregisters idx; it is not purged.
	Detach(idx Index)

	// Populate streams every live handle into idx.AddFast. Used by Attach
	// and available directly for rebuilding a purged index.
	Populate(idx Index)

	// Size reports the number of live records.
	Size() uint64
	// Stats snapshots store-level counters.
	Stats() DataStoreStats
	// Close releases background resources. Safe to call once.
	Close() error
}

// Open creates a DataStore of the given mode and record geometry. recordLen
// is the payload length GetAddr allocates in banked mode; Add and
// AddVariable store each payload at the length they are given, without
// checking it against recordLen (linked mode ignores recordLen and sizes
// each node to its payload). If opts.ExpirySeconds is non-zero,
// every Add stamps a monotonic timestamp and RemoveSweep treats records
// older than ExpirySeconds as expired, unless cond overrides that with a
// custom predicate.
func Open(mode Mode, recordLen int, cond Condition, opts *Options) DataStore {
	if opts == nil {
		opts = NewOptions("")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	base := &storeBase{
		opts:    opts,
		cond:    cond,
		expiry:  opts.ExpirySeconds,
		indexes: make([]Index, 0, 4),
	}
	var ds DataStore
	switch mode {
	case ModeLinkedList, ModeLinkedListIndirect, ModeLinkedListVariable:
		ds = &linkedStore{storeBase: base, indirect: mode.indirect()}
	default:
		capacity := opts.BankCapacity
		if capacity < 1 {
			capacity = 4096
		}
		ds = &bankedStore{
			storeBase:   base,
			recordLen:   recordLen,
			bankCap:     capacity,
			indirect:    mode.indirect(),
			banks:       make([][]*record, 0, 8),
			freeList:    nil,
			timestampFn: time.Now,
		}
	}
	if opts.SweepIntervalMS > 0 {
		base.stop = make(chan struct{})
		go base.sweeperLoop(ds, time.Duration(opts.SweepIntervalMS)*time.Millisecond)
	}
	return ds
}

// NewChildDataStore creates a view of parent whose attached indexes are
// independent of parent's own: records are stored by delegating Add,
// GetAt, RemoveAddr, RemoveSweep, and RemoveCleanup to parent (the child
// owns no bytes of its own), but the child maintains its own index set,
// populated from parent's current live contents at Attach time and kept
// current only for records added through the child afterward. Once the
// child itself is closed, its mutating calls return an error instead of
// reaching parent; closing parent does not close the child, and closing
// the child does not close parent.
func NewChildDataStore(parent DataStore) DataStore {
	return &childStore{
		storeBase: &storeBase{
			opts:    &Options{Logger: zap.NewNop().Sugar()},
			indexes: make([]Index, 0, 4),
		},
		parent: parent,
	}
}

// storeBase holds the fields and behavior shared by every DataStore mode:
// index fan-out, the reader-writer lock discipline (datastore lock acquired
// before any index lock), and prune-condition resolution.
type storeBase struct {
	mu      sync.RWMutex
	opts    *Options
	cond    Condition
	expiry  int64
	indexes []Index
	seqGen  uint64

	stop     chan struct{}
	stopOnce sync.Once
}

func (s *storeBase) nextSeq() uint64 {
	s.seqGen++
	return s.seqGen
}

func (s *storeBase) publish(h Handle) {
	for _, idx := range s.indexes {
		idx.Add(h)
	}
}

func (s *storeBase) Detach(idx Index) {
	s.mu.Lock()
	for i, existing := range s.indexes {
		if existing == idx {
			s.indexes = append(s.indexes[:i], s.indexes[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *storeBase) pruneCondition() Condition {
	if s.cond != nil {
		return s.cond
	}
	if s.expiry <= 0 {
		return nil
	}
	deadline := s.expiry
	return ConditionFunc(func(h Handle) bool {
		if h.Timestamp() == 0 {
			return false
		}
		return time.Now().Unix()-h.Timestamp() >= deadline
	})
}

// sweeperLoop runs RemoveSweep/RemoveCleanup on a ticker until the store is
// closed, driving time-based expiry for stores opened with OptSweepInterval.
func (s *storeBase) sweeperLoop(ds DataStore, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if marks := ds.RemoveSweep(); len(marks) > 0 {
				ds.RemoveCleanup(marks)
			}
		}
	}
}

func (s *storeBase) stopSweeper() {
	if s.stop == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
}

// archiveSwept appends each pruned record's bytes to the store's configured
// archive sink before the storage is reclaimed. The archive applies its own
// Condition; write failures are logged and do not abort the sweep.
func (s *storeBase) archiveSwept(marks []SweepMark) {
	a := s.opts.Archive
	if a == nil || len(marks) == 0 {
		return
	}
	for _, m := range marks {
		if _, err := a.Write(m.Old.Bytes(), nil); err != nil {
			s.opts.Logger.Warnw("odb: archiving swept record failed", "err", err)
		}
	}
	if err := a.Flush(); err != nil {
		s.opts.Logger.Warnw("odb: archive flush after sweep failed", "err", err)
	}
}

// notifyIndexes fans RemoveSweep out across attached indexes, in parallel
// when there is more than one, via an errgroup.
func (s *storeBase) notifyIndexes(marks []SweepMark) {
	if len(marks) == 0 || len(s.indexes) == 0 {
		return
	}
	if len(s.indexes) == 1 {
		s.indexes[0].RemoveSweep(marks)
		return
	}
	var g errgroup.Group
	for _, idx := range s.indexes {
		idx := idx
		g.Go(func() error {
			idx.RemoveSweep(marks)
			return nil
		})
	}
	_ = g.Wait()
}

// DataStoreStats snapshots a DataStore's counters, rendered by
// DataStoreStats.String in stats.go.
type DataStoreStats struct {
	Mode       string
	Size       uint64
	Banks      int
	FreeSlots  int
	IndexCount int
}
