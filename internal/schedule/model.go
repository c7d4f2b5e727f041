package schedule

import "transit-tracker/internal/gtfs"

// Route is a gtfs route bound to its feed and agency. Vehicles track
// routes by pointer identity; a reload produces new Routes.
type Route struct {
	gtfs.Route
	FeedID int
	Agency *gtfs.Agency
}

// StopOccurrence is one scheduled visit to a physical stop.
type StopOccurrence struct {
	Stop         *gtfs.Stop
	Sequence     int
	ArrivalMin   int // minutes since midnight; 0 if untimed
	DepartureMin int // minutes since midnight; 0 if untimed
	Route        *Route
	Trip         *Trip
	Path         *RoutePath
	Next         *StopOccurrence // following occurrence on Path, nil at the end
}

type Trip struct {
	gtfs.Trip
	Route    *Route
	Vertices []gtfs.ShapePoint
	Stops    []*StopOccurrence
	StartMin int
	EndMin   int
}

func (t *Trip) StartStopID() string {
	if len(t.Stops) == 0 {
		return ""
	}
	return t.Stops[0].Stop.StopID
}

func (t *Trip) EndStopID() string {
	if len(t.Stops) == 0 {
		return ""
	}
	return t.Stops[len(t.Stops)-1].Stop.StopID
}

func (t *Trip) firstVertex() gtfs.ShapePoint { return t.Vertices[0] }
func (t *Trip) lastVertex() gtfs.ShapePoint  { return t.Vertices[len(t.Vertices)-1] }

// computeTimes sets StartMin and EndMin from the first and last timed stops.
func (t *Trip) computeTimes() {
	t.StartMin, t.EndMin = 0, 0
	for _, s := range t.Stops {
		if m := s.timeMin(); m > 0 {
			t.StartMin = m
			break
		}
	}
	for i := len(t.Stops) - 1; i >= 0; i-- {
		if m := t.Stops[i].timeMin(); m > 0 {
			t.EndMin = m
			break
		}
	}
}

func (s *StopOccurrence) timeMin() int {
	if s.ArrivalMin > 0 {
		return s.ArrivalMin
	}
	return s.DepartureMin
}

// RoutePath is a run of trips operated as one continuous vehicle block.
type RoutePath struct {
	Route     *Route
	ServiceID string
	Trips     []*Trip
	Stops     []*StopOccurrence
	StartMin  int
	EndMin    int
}

// RouteID is the id of the path's route, or empty when it has none.
func (p *RoutePath) RouteID() string {
	if p.Route == nil {
		return ""
	}
	return p.Route.RouteID
}

func newRoutePath(trips []*Trip) *RoutePath {
	p := &RoutePath{Trips: trips}
	if len(trips) > 0 {
		p.Route = trips[0].Route
		p.ServiceID = trips[0].ServiceID
	}
	for _, t := range trips {
		p.Stops = append(p.Stops, t.Stops...)
	}
	for i, s := range p.Stops {
		s.Path = p
		if i+1 < len(p.Stops) {
			s.Next = p.Stops[i+1]
		} else {
			s.Next = nil
		}
		if p.StartMin == 0 && s.ArrivalMin > 0 {
			p.StartMin = s.ArrivalMin
		}
		if s.DepartureMin > p.EndMin {
			p.EndMin = s.DepartureMin
		}
	}
	return p
}

// TripIDs lists the member trips in path order.
func (p *RoutePath) TripIDs() []string {
	ids := make([]string, len(p.Trips))
	for i, t := range p.Trips {
		ids[i] = t.TripID
	}
	return ids
}
