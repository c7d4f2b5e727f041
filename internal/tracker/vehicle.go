package tracker

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/schedule"
	"transit-tracker/internal/stopwindow"
)

// StopIndex finds the stack of stop occurrences closest to a position.
// *stopwindow.Index satisfies it.
type StopIndex interface {
	Closest(lat, lon float64) (stopwindow.Key, []*schedule.StopOccurrence, bool)
}

type routeSet map[*schedule.Route]struct{}

// Vehicle is the tracking state of one beaconing vehicle. Ring slots that
// never received a sample hold NaN coordinates and a -1 timecode.
type Vehicle struct {
	mu sync.Mutex

	// seen is the unix second the registry last routed a beacon here. It is
	// stamped under the registry lock, before the sample is applied.
	seen atomic.Int64

	id       int16
	size     int
	lat      []float64
	lon      []float64
	ts       []int64 // unix seconds
	coordIdx int     // -1 until the first sample

	heading  float64 // degrees, NaN until two samples
	speedMps float64

	history [][]*schedule.StopOccurrence
	histIdx int // -1 until the first closest stack

	probable routeSet
	rejected routeSet
}

func newVehicle(id int16, size int) *Vehicle {
	v := &Vehicle{
		id:       id,
		size:     size,
		lat:      make([]float64, size),
		lon:      make([]float64, size),
		ts:       make([]int64, size),
		history:  make([][]*schedule.StopOccurrence, size),
		probable: routeSet{},
		rejected: routeSet{},
	}
	v.reset()
	return v
}

func (v *Vehicle) reset() {
	v.coordIdx = -1
	v.histIdx = -1
	for i := 0; i < v.size; i++ {
		v.lat[i] = math.NaN()
		v.lon[i] = math.NaN()
		v.ts[i] = -1
		v.history[i] = nil
	}
	v.heading = math.NaN()
	v.speedMps = 0
	clear(v.probable)
	clear(v.rejected)
}

func (v *Vehicle) inc(i int) int {
	i++
	if i >= v.size {
		return 0
	}
	return i
}

func (v *Vehicle) valid(i int) bool {
	return !math.IsNaN(v.lat[i]) && !math.IsNaN(v.lon[i])
}

// update records one sample and re-derives heading, speed, closest stops
// and probable routes.
func (v *Vehicle) update(lat, lon float64, ts int64, ix StopIndex) State {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.coordIdx = v.inc(v.coordIdx)
	v.lat[v.coordIdx] = lat
	v.lon[v.coordIdx] = lon
	v.ts[v.coordIdx] = ts

	v.updateHeading()
	v.updateSpeed()
	if ix != nil {
		v.updateStopHistory(ix)
	}
	return v.stateLocked()
}

func (v *Vehicle) updateHeading() {
	prev := v.coordIdx - 1
	if prev < 0 {
		prev = v.size - 1
	}
	if !v.valid(v.coordIdx) || !v.valid(prev) {
		return
	}
	b := gtfs.Bearing(v.lat[prev], v.lon[prev], v.lat[v.coordIdx], v.lon[v.coordIdx])
	if math.IsNaN(v.heading) {
		v.heading = b
	} else {
		v.heading = (v.heading + b) / 2
	}
}

// updateSpeed averages over the whole ring: total path length divided by
// the span between the oldest and newest valid timecodes.
func (v *Vehicle) updateSpeed() {
	dist := 0.0
	a := v.inc(v.coordIdx) // oldest slot
	for n := 0; n < v.size-1; n++ {
		b := v.inc(a)
		if v.valid(a) && v.valid(b) {
			dist += gtfs.DistanceMeters(v.lat[a], v.lon[a], v.lat[b], v.lon[b])
		}
		a = b
	}

	var lo, hi int64 = math.MaxInt64, math.MinInt64
	for _, t := range v.ts {
		if t < 0 {
			continue
		}
		lo = min(lo, t)
		hi = max(hi, t)
	}
	if hi <= lo {
		v.speedMps = 0
		return
	}
	v.speedMps = dist / float64(hi-lo)
}

func (v *Vehicle) updateStopHistory(ix StopIndex) {
	_, closest, ok := ix.Closest(v.lat[v.coordIdx], v.lon[v.coordIdx])
	if !ok || len(closest) == 0 {
		return
	}
	if v.histIdx == -1 {
		v.histIdx = 0
		v.history[0] = closest
		return
	}
	if sameStack(closest, v.history[v.histIdx]) {
		return
	}
	v.histIdx = v.inc(v.histIdx)
	v.history[v.histIdx] = closest
	v.inferRoutes()
}

func sameStack(a, b []*schedule.StopOccurrence) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// inferRoutes confirms every route whose stop-to-next-stop link shows up,
// in order, in the stop history. Routes that drop out of the probable set are
// rejected until the probable set empties.
func (v *Vehicle) inferRoutes() {
	if len(v.probable) == 0 {
		clear(v.rejected)
	}

	var list []*schedule.StopOccurrence
	idx := v.histIdx
	for n := 0; n < v.size; n++ {
		idx = v.inc(idx)
		list = append(list, v.history[idx]...)
	}

	confirmed := routeSet{}
	for i := 0; i < len(list)-1; i++ {
		next := list[i].Next
		if next == nil {
			continue
		}
		for j := i + 1; j < len(list); j++ {
			if list[j] == next {
				if next.Route != nil {
					confirmed[next.Route] = struct{}{}
				}
				list = append(list[:j], list[j+1:]...)
				break
			}
		}
	}

	for r := range v.probable {
		if _, ok := confirmed[r]; !ok {
			v.rejected[r] = struct{}{}
		}
	}
	for r := range confirmed {
		v.probable[r] = struct{}{}
	}
	for r := range v.rejected {
		delete(v.probable, r)
	}
}

// State returns a snapshot safe to share across goroutines.
func (v *Vehicle) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *Vehicle) stateLocked() State {
	s := State{ID: v.id}
	if v.coordIdx < 0 {
		return s
	}
	s.Ready = true
	s.Lat = v.lat[v.coordIdx]
	s.Lon = v.lon[v.coordIdx]
	s.Timestamp = time.Unix(v.ts[v.coordIdx], 0)
	if !math.IsNaN(v.heading) {
		s.Heading = v.heading
		s.HasHeading = true
	}
	s.SpeedMps = v.speedMps
	s.SpeedMph = gtfs.MpsToMph(v.speedMps)

	if v.histIdx >= 0 {
		for _, occ := range v.history[v.histIdx] {
			s.ClosestStops = append(s.ClosestStops, stopRef(occ))
		}
	}
	for r := range v.probable {
		if r != nil {
			s.ProbableRoutes = append(s.ProbableRoutes, routeRef(r))
		}
	}
	sort.Slice(s.ProbableRoutes, func(i, j int) bool {
		a, b := s.ProbableRoutes[i], s.ProbableRoutes[j]
		if a.FeedID != b.FeedID {
			return a.FeedID < b.FeedID
		}
		return a.RouteID < b.RouteID
	})
	return s
}
