package schedule

import (
	"sort"

	"transit-tracker/internal/gtfs"
)

// DefaultJoinTimeThreshold is the historical join threshold in minutes. Gaps
// are whole minutes, so only back-to-back trips (gap 0) pass it.
const DefaultJoinTimeThreshold = 0.00025

type PathOptions struct {
	// ClosenessMeters is the largest endpoint separation that still counts
	// as the same place when boundary stop ids differ.
	ClosenessMeters float64
	// JoinTimeThreshold is the largest allowed gap, in minutes, between the
	// end of one trip and the start of the next.
	JoinTimeThreshold float64
	// MatchStops requires a shared boundary stop or close endpoints.
	MatchStops bool
}

// BuildPaths stitches trips into route paths. Trips without vertices are
// dropped. Equal start times are ordered by trip id, so the same input always
// yields the same paths.
func BuildPaths(trips []*Trip, opts PathOptions) []*RoutePath {
	var usable []*Trip
	for _, t := range trips {
		if len(t.Vertices) == 0 {
			continue
		}
		usable = append(usable, t)
	}
	sort.SliceStable(usable, func(i, j int) bool {
		if usable[i].StartMin != usable[j].StartMin {
			return usable[i].StartMin < usable[j].StartMin
		}
		return usable[i].TripID < usable[j].TripID
	})

	pool := make([][]*Trip, len(usable))
	for i, t := range usable {
		pool[i] = []*Trip{t}
	}
	return toPaths(attach(pool, opts))
}

// Rejoin runs another merge over existing paths, typically with looser options.
func Rejoin(paths []*RoutePath, opts PathOptions) []*RoutePath {
	pool := make([][]*Trip, len(paths))
	for i, p := range paths {
		pool[i] = append([]*Trip(nil), p.Trips...)
	}
	return toPaths(attach(pool, opts))
}

// attach merges candidates until a full pass makes no merge. Each pass pops
// a piece and grows it by absorbing every pool member that legally joins its
// head (left) or tail (right).
func attach(pool [][]*Trip, opts PathOptions) [][]*Trip {
	rawThresh := opts.ClosenessMeters * opts.ClosenessMeters
	var done [][]*Trip
	for {
		merged := false
		var next [][]*Trip
		for len(pool) > 0 {
			piece := pool[0]
			pool = pool[1:]
			grew := false
			for i := 0; i < len(pool); {
				t := pool[i]
				switch {
				case canJoin(t, piece, rawThresh, opts):
					piece = append(append([]*Trip(nil), t...), piece...)
				case canJoin(piece, t, rawThresh, opts):
					piece = append(piece, t...)
				default:
					i++
					continue
				}
				pool = append(pool[:i], pool[i+1:]...)
				grew = true
				merged = true
			}
			if grew {
				next = append(next, piece)
			} else {
				done = append(done, piece)
			}
		}
		pool = next
		if !merged {
			break
		}
	}
	return append(pool, done...)
}

// canJoin reports whether before's last trip may be directly followed by
// after's first trip.
func canJoin(before, after []*Trip, rawThresh float64, opts PathOptions) bool {
	a := before[len(before)-1]
	b := after[0]
	if a.ServiceID != b.ServiceID || a.RouteID != b.RouteID {
		return false
	}
	if opts.MatchStops && a.EndStopID() != b.StartStopID() {
		av, bv := a.lastVertex(), b.firstVertex()
		if gtfs.RawDistanceMeters(av.Lat, av.Lon, bv.Lat, bv.Lon) > rawThresh {
			return false
		}
	}
	gap := float64(b.StartMin - a.EndMin)
	return gap >= 0 && gap <= opts.JoinTimeThreshold
}

func toPaths(pieces [][]*Trip) []*RoutePath {
	out := make([]*RoutePath, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, newRoutePath(p))
	}
	return out
}
