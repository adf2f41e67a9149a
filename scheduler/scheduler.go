// Package scheduler implements a worker pool that dispatches independent
// work items and interference-classed work items, the latter serialised
// within their class and unordered across classes. The odb package itself
// does not use it: a DataStore's sweep scan fans out on its own goroutines.
package scheduler

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// WorkFunc is a unit of work dispatched by the scheduler. Its return value
// is stashed in the Future returned by AddWork.
type WorkFunc func(args interface{}) interface{}

// workItem pairs a WorkFunc with its arguments and return slot, tagged
// optionally with a class id.
type workItem struct {
	id       uuid.UUID
	fn       WorkFunc
	args     interface{}
	future   *Future
	hasClass bool
	classID  int64
}

// Future is the return-slot a caller polls or blocks on for a dispatched
// work item's result.
type Future struct {
	mu    sync.Mutex
	cond  *sync.Cond
	done  bool
	value interface{}
}

func newFuture() *Future {
	f := &Future{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Wait blocks until the work item has run and returns its result.
func (f *Future) Wait() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for !f.done {
		f.cond.Wait()
	}
	return f.value
}

// Done reports whether the work item has completed without blocking.
func (f *Future) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *Future) complete(v interface{}) {
	f.mu.Lock()
	f.value = v
	f.done = true
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Scheduler is a worker pool dispatching independent and interference-class
// grouped work items across a resizable set of goroutines.
//
// A single mutex guards the dispatch structures (the independent queue and
// the class tree) and a condition variable wakes workers on enqueue or
// thread-count change.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	independent []*workItem
	classes     classTree

	wantThreads int
	workers     map[int]*worker
	nextWorker  int

	stopped bool

	numEnqueued uint64
	numComplete uint64
	numActive   int

	logger *zap.SugaredLogger
}

type worker struct {
	id   int
	run  bool
	done chan struct{}
}

// New creates a Scheduler and starts n worker goroutines.
func New(n int, logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Scheduler{
		workers: make(map[int]*worker),
		logger:  logger,
	}
	s.cond = sync.NewCond(&s.mu)
	s.UpdateNumThreads(n)
	return s
}

// AddWorkFlags controls AddWork dispatch behaviour. No flags are defined
// yet, so the zero value is the only legal value today.
type AddWorkFlags uint32

// AddWork enqueues an independent work item, unordered with respect to
// every other independent item. It returns ErrSchedulerShutdown if the
// scheduler has been stopped.
func (s *Scheduler) AddWork(fn WorkFunc, args interface{}, flags AddWorkFlags) (*Future, error) {
	return s.addWork(fn, args, false, 0)
}

// AddClassedWork enqueues a work item behind every other item already
// queued for the same classID. Items of different classes may run
// concurrently; items of the same class never do.
func (s *Scheduler) AddClassedWork(fn WorkFunc, args interface{}, classID int64, flags AddWorkFlags) (*Future, error) {
	return s.addWork(fn, args, true, classID)
}

func (s *Scheduler) addWork(fn WorkFunc, args interface{}, hasClass bool, classID int64) (*Future, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSchedulerShutdown
	}

	w := &workItem{
		id:       uuid.New(),
		fn:       fn,
		args:     args,
		future:   newFuture(),
		hasClass: hasClass,
		classID:  classID,
	}
	if hasClass {
		s.classes.getOrCreate(classID).push(w)
	} else {
		s.independent = append(s.independent, w)
	}
	s.numEnqueued++
	s.mu.Unlock()
	s.cond.Broadcast()
	return w.future, nil
}

// ErrSchedulerShutdown is returned by AddWork/AddClassedWork once the
// scheduler has been stopped via Stop.
// Queued work that was accepted before shutdown still runs to completion.
var ErrSchedulerShutdown = errors.New("scheduler: shut down")

// take pops the next runnable work item, preferring the independent queue
// (FIFO) and falling back to the lowest-id interference class with pending
// work. It blocks on the condition variable when nothing is runnable and
// the worker is still supposed to be running, returning (nil, false) once
// told to stop.
func (s *Scheduler) take(w *worker) (*workItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if len(s.independent) > 0 {
			item := s.independent[0]
			s.independent = s.independent[1:]
			s.numActive++
			return item, true
		}
		if item, ok := s.classes.popFirst(); ok {
			s.numActive++
			return item, true
		}
		if !w.run {
			return nil, false
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) runWorker(w *worker) {
	defer close(w.done)
	for {
		item, ok := s.take(w)
		if !ok {
			return
		}
		result := item.fn(item.args)
		item.future.complete(result)

		s.mu.Lock()
		s.numComplete++
		s.numActive--
		idle := len(s.independent) == 0 && !s.classes.hasWork() && s.numActive == 0
		s.mu.Unlock()
		if idle {
			s.cond.Broadcast() // wake BlockUntilDone waiters
		}
	}
}

// UpdateNumThreads grows the pool by spawning goroutines or shrinks it by
// marking the excess workers' run flag false and broadcasting so they wake
// and exit, then waits for the requested thread count to be reached.
// Cancellation is cooperative: in-flight work items always run to
// completion.
func (s *Scheduler) UpdateNumThreads(n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	s.wantThreads = n
	current := len(s.workers)

	var spawned []*worker
	var retiring []*worker

	if n > current {
		for i := current; i < n; i++ {
			id := s.nextWorker
			s.nextWorker++
			w := &worker{id: id, run: true, done: make(chan struct{})}
			s.workers[id] = w
			spawned = append(spawned, w)
		}
	} else if n < current {
		need := current - n
		for _, w := range s.workers {
			if len(retiring) >= need {
				break
			}
			w.run = false
			retiring = append(retiring, w)
		}
	}
	s.mu.Unlock()

	if len(spawned) > 0 {
		s.logger.Debugw("scheduler: spawning workers", "count", len(spawned))
	}
	if len(retiring) > 0 {
		s.logger.Debugw("scheduler: retiring workers", "count", len(retiring))
	}
	for _, w := range spawned {
		go s.runWorker(w)
	}
	s.cond.Broadcast()

	// Block until every retiring worker has actually observed run ==
	// false and exited.
	for _, w := range retiring {
		<-w.done
		s.mu.Lock()
		delete(s.workers, w.id)
		s.mu.Unlock()
	}
}

// BlockUntilDone returns once every queued work item (independent and
// classed) has completed and no worker is mid-item.
func (s *Scheduler) BlockUntilDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.independent) > 0 || s.classes.hasWork() || s.numActive > 0 {
		s.cond.Wait()
	}
}

// Stop marks the scheduler shut down: further AddWork/AddClassedWork calls
// are rejected, but items already queued run to completion. It does not
// stop workers; call UpdateNumThreads(0) for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// NumThreads reports the current worker goroutine count.
func (s *Scheduler) NumThreads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// NumComplete reports how many work items have finished running.
func (s *Scheduler) NumComplete() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numComplete
}

// Stats snapshots the scheduler's counters for diagnostics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Threads:     len(s.workers),
		Pending:     len(s.independent),
		ActiveClass: s.classes.count,
		NumEnqueued: s.numEnqueued,
		NumComplete: s.numComplete,
		NumActive:   s.numActive,
		Stopped:     s.stopped,
	}
}
