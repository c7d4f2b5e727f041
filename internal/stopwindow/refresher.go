package stopwindow

import (
	"context"
	"sync"
	"time"

	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/logging"
	"transit-tracker/internal/schedule"
)

const DefaultRefreshInterval = 60 * time.Second

const minutesPerDay = 24 * 60

// Source yields the occurrences scheduled between two minute marks.
// *schedule.Schedule satisfies it.
type Source interface {
	StopsInWindow(startMin, endMin int) []*schedule.StopOccurrence
}

// Refresher rebuilds one feed's share of the window on a ticker.
type Refresher struct {
	feedID   int
	window   *Window
	margin   int
	interval time.Duration
	log      logging.Logger

	mu   sync.Mutex
	src  Source
	prev Source // previous service day, for trips running past midnight

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func NewRefresher(feedID int, src Source, w *Window, marginMin int, interval time.Duration, log logging.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Refresher{
		feedID:   feedID,
		src:      src,
		window:   w,
		margin:   marginMin,
		interval: interval,
		log:      log.With("feed_id", feedID),
		Now:      time.Now,
	}
}

// SetSource swaps the schedule when the service day rolls over. The
// replaced schedule is still queried, shifted by one day, so its trips
// timed after 24:00 stay in the window.
func (r *Refresher) SetSource(src Source) {
	r.mu.Lock()
	r.prev, r.src = r.src, src
	r.mu.Unlock()
}

// Bounds returns the window [now-2*margin, now+margin] in minutes since
// local midnight.
func Bounds(now time.Time, marginMin int) (start, end int) {
	m := gtfs.MinutesSinceMidnight(now)
	return m - 2*marginMin, m + marginMin
}

func (r *Refresher) Refresh() *Index {
	r.mu.Lock()
	src, prev := r.src, r.prev
	r.mu.Unlock()

	start, end := Bounds(r.Now(), r.margin)
	var occ []*schedule.StopOccurrence
	if src != nil {
		occ = src.StopsInWindow(start, end)
	}
	if prev != nil {
		occ = append(occ, prev.StopsInWindow(start+minutesPerDay, end+minutesPerDay)...)
	}
	ix := r.window.Update(r.feedID, occ)
	r.log.Debug("stop window rebuilt",
		"from", gtfs.MinutesToTime(start),
		"to", gtfs.MinutesToTime(end),
		"feed_occurrences", len(occ),
		"coordinates", ix.Len(),
	)
	return ix
}

// Run refreshes immediately, then on every tick until ctx ends. The feed
// is removed from the window on exit.
func (r *Refresher) Run(ctx context.Context) {
	r.Refresh()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.window.Remove(r.feedID)
			return
		case <-ticker.C:
			r.Refresh()
		}
	}
}
