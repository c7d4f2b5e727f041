package schedule

import (
	"sort"
	"time"

	"github.com/pkg/errors"

	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/logging"
)

type Options struct {
	ClosenessMeters   float64
	JoinTimeThreshold float64
	// TimeGap, in minutes, enables a second merge pass that ignores stop
	// matching. Zero disables it.
	TimeGap int
}

// Bounds is the bounding box of a feed's shape vertices.
type Bounds struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Schedule is one feed compiled for one service day.
type Schedule struct {
	FeedID   int
	Name     string
	Day      time.Time
	services map[string]struct{}
	trips    []*Trip
	paths    []*RoutePath
	bounds   Bounds

	SkippedStopTimes int
	SkippedTrips     int // trips whose route is not in the feed
}

// Build compiles feed into route paths for the service running on day.
func Build(feedID int, name string, feed *gtfs.Feed, day time.Time, opts Options, log logging.Logger) (*Schedule, error) {
	if feed == nil {
		return nil, errors.New("nil feed")
	}
	if err := feed.Validate(); err != nil {
		return nil, errors.Wrapf(err, "feed %q", name)
	}
	s := &Schedule{
		FeedID:   feedID,
		Name:     name,
		Day:      gtfs.Midnight(day),
		services: feed.ActiveServiceIDs(day),
	}

	routes := linkRoutes(feedID, feed)
	stops := make(map[string]*gtfs.Stop, len(feed.Stops))
	for i := range feed.Stops {
		stops[feed.Stops[i].StopID] = &feed.Stops[i]
	}
	shapes := groupShapes(feed.Shapes)

	tripByID := make(map[string]*Trip)
	for _, rec := range feed.Trips {
		if _, ok := s.services[rec.ServiceID]; !ok {
			continue
		}
		route, ok := routes[rec.RouteID]
		if !ok {
			s.SkippedTrips++
			continue
		}
		t := &Trip{Trip: rec, Route: route, Vertices: shapes[rec.ShapeID]}
		tripByID[rec.TripID] = t
		s.trips = append(s.trips, t)
	}

	stopTimes := make([]*gtfs.StopTime, 0, len(feed.StopTimes))
	for i := range feed.StopTimes {
		stopTimes = append(stopTimes, &feed.StopTimes[i])
	}
	sort.SliceStable(stopTimes, func(i, j int) bool {
		if stopTimes[i].TripID != stopTimes[j].TripID {
			return stopTimes[i].TripID < stopTimes[j].TripID
		}
		return stopTimes[i].StopSequence < stopTimes[j].StopSequence
	})
	for _, st := range stopTimes {
		t, ok := tripByID[st.TripID]
		if !ok {
			// trip of an inactive service, or unknown
			continue
		}
		stop, ok := stops[st.StopID]
		if !ok {
			s.SkippedStopTimes++
			continue
		}
		t.Stops = append(t.Stops, &StopOccurrence{
			Stop:         stop,
			Sequence:     st.StopSequence,
			ArrivalMin:   st.ArrivalSec / 60,
			DepartureMin: st.DepartureSec / 60,
			Route:        t.Route,
			Trip:         t,
		})
	}
	for _, t := range s.trips {
		t.computeTimes()
	}

	s.paths = BuildPaths(s.trips, PathOptions{
		ClosenessMeters:   opts.ClosenessMeters,
		JoinTimeThreshold: opts.JoinTimeThreshold,
		MatchStops:        true,
	})
	if opts.TimeGap > 0 {
		s.paths = Rejoin(s.paths, PathOptions{
			JoinTimeThreshold: float64(opts.TimeGap),
			MatchStops:        false,
		})
	}
	s.bounds = computeBounds(feed.Shapes)

	if s.SkippedTrips > 0 {
		log.Warn("trips reference unknown routes", "feed", name, "count", s.SkippedTrips)
	}
	if s.SkippedStopTimes > 0 {
		log.Warn("stop times reference unknown stops", "feed", name, "count", s.SkippedStopTimes)
	}
	log.Info("schedule built",
		"feed", name,
		"day", s.Day.Format("2006-01-02"),
		"services", len(s.services),
		"trips", len(s.trips),
		"paths", len(s.paths),
	)
	return s, nil
}

func linkRoutes(feedID int, feed *gtfs.Feed) map[string]*Route {
	agencies := make(map[string]*gtfs.Agency, len(feed.Agencies))
	for i := range feed.Agencies {
		agencies[feed.Agencies[i].AgencyID] = &feed.Agencies[i]
	}
	routes := make(map[string]*Route, len(feed.Routes))
	for _, r := range feed.Routes {
		route := &Route{Route: r, FeedID: feedID}
		if len(feed.Agencies) == 1 {
			route.Agency = &feed.Agencies[0]
		} else {
			route.Agency = agencies[r.AgencyID]
		}
		routes[r.RouteID] = route
	}
	return routes
}

// groupShapes returns each shape's vertices in sequence order.
func groupShapes(points []gtfs.ShapePoint) map[string][]gtfs.ShapePoint {
	shapes := make(map[string][]gtfs.ShapePoint)
	for _, p := range points {
		shapes[p.ShapeID] = append(shapes[p.ShapeID], p)
	}
	for _, pts := range shapes {
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Sequence < pts[j].Sequence })
	}
	return shapes
}

func computeBounds(points []gtfs.ShapePoint) Bounds {
	if len(points) == 0 {
		return Bounds{}
	}
	b := Bounds{MinLat: points[0].Lat, MaxLat: points[0].Lat, MinLon: points[0].Lon, MaxLon: points[0].Lon}
	for _, p := range points[1:] {
		b.MinLat = min(b.MinLat, p.Lat)
		b.MaxLat = max(b.MaxLat, p.Lat)
		b.MinLon = min(b.MinLon, p.Lon)
		b.MaxLon = max(b.MaxLon, p.Lon)
	}
	return b
}

func (s *Schedule) Paths() []*RoutePath { return s.paths }

func (s *Schedule) Trips() []*Trip { return s.trips }

func (s *Schedule) Bounds() Bounds { return s.bounds }

func (s *Schedule) ValidService(serviceID string) bool {
	_, ok := s.services[serviceID]
	return ok
}

// StopsInWindow returns the occurrences scheduled in [startMin, endMin] on
// every path overlapping the window. An untimed occurrence is kept when the
// timed occurrence before it was kept.
func (s *Schedule) StopsInWindow(startMin, endMin int) []*StopOccurrence {
	var out []*StopOccurrence
	for _, p := range s.paths {
		if p.StartMin > endMin || p.EndMin < startMin {
			continue
		}
		inRange := false
		for _, occ := range p.Stops {
			if occ.ArrivalMin != 0 {
				inRange = occ.ArrivalMin >= startMin && occ.ArrivalMin <= endMin
			}
			if inRange {
				out = append(out, occ)
			}
		}
	}
	return out
}
