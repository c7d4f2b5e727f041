package stopwindow

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"transit-tracker/internal/schedule"
)

type Metrics interface {
	ObserveRebuild(d time.Duration, coordinates, occurrences int)
}

// Window publishes the current Index. Every rebuild allocates a new Index
// and retired ones are left to the collector, so a reader may keep the
// result of Current for as long as it likes.
type Window struct {
	current atomic.Pointer[Index]

	buildMu sync.Mutex
	feeds   map[int][]*schedule.StopOccurrence

	metrics Metrics
	now     func() time.Time
}

func NewWindow(m Metrics) *Window {
	w := &Window{
		feeds:   make(map[int][]*schedule.StopOccurrence),
		metrics: m,
		now:     time.Now,
	}
	empty := newIndex()
	empty.builtAt = w.now()
	w.current.Store(empty)
	return w
}

// Current never returns nil.
func (w *Window) Current() *Index {
	return w.current.Load()
}

// Update replaces one feed's occurrences and publishes a rebuilt index
// covering every feed.
func (w *Window) Update(feedID int, occurrences []*schedule.StopOccurrence) *Index {
	w.buildMu.Lock()
	defer w.buildMu.Unlock()
	w.feeds[feedID] = occurrences
	return w.rebuild()
}

// Remove drops a feed from the window.
func (w *Window) Remove(feedID int) *Index {
	w.buildMu.Lock()
	defer w.buildMu.Unlock()
	delete(w.feeds, feedID)
	return w.rebuild()
}

func (w *Window) rebuild() *Index {
	start := time.Now()
	ids := make([]int, 0, len(w.feeds))
	for id := range w.feeds {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	ix := newIndexSized(w.current.Load().Len())
	for _, id := range ids {
		for _, occ := range w.feeds[id] {
			ix.add(occ)
		}
	}
	ix.builtAt = w.now()

	w.current.Store(ix)

	if w.metrics != nil {
		w.metrics.ObserveRebuild(time.Since(start), ix.Len(), ix.Occurrences())
	}
	return ix
}
