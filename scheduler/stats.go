package scheduler

import (
	"fmt"

	"github.com/gholt/brimtext"
)

// Stats snapshots a Scheduler's dispatch counters, rendered as a
// brimtext.Align aligned key/value table (odb/stats.go does the same for
// DataStoreStats/IndexStats).
type Stats struct {
	Threads     int
	Pending     int
	ActiveClass int
	NumEnqueued uint64
	NumComplete uint64
	NumActive   int
	Stopped     bool
}

func (s Stats) String() string {
	return brimtext.Align([][]string{
		{"threads", fmt.Sprintf("%d", s.Threads)},
		{"pending", fmt.Sprintf("%d", s.Pending)},
		{"activeClasses", fmt.Sprintf("%d", s.ActiveClass)},
		{"enqueued", fmt.Sprintf("%d", s.NumEnqueued)},
		{"complete", fmt.Sprintf("%d", s.NumComplete)},
		{"active", fmt.Sprintf("%d", s.NumActive)},
		{"stopped", fmt.Sprintf("%t", s.Stopped)},
	}, nil)
}
