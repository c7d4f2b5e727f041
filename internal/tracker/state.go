package tracker

import (
	"time"

	"transit-tracker/internal/schedule"
)

// State is a point-in-time copy of a vehicle. Position, heading and speed
// are meaningful only when Ready is set.
type State struct {
	ID             int16      `json:"id"`
	Ready          bool       `json:"ready"`
	Lat            float64    `json:"lat"`
	Lon            float64    `json:"lon"`
	Heading        float64    `json:"heading"`
	HasHeading     bool       `json:"has_heading"`
	SpeedMps       float64    `json:"speed_mps"`
	SpeedMph       float64    `json:"speed_mph"`
	Timestamp      time.Time  `json:"timestamp"`
	ClosestStops   []StopRef  `json:"closest_stops,omitempty"`
	ProbableRoutes []RouteRef `json:"probable_routes,omitempty"`
}

type StopRef struct {
	StopID     string `json:"stop_id"`
	Name       string `json:"name"`
	RouteID    string `json:"route_id,omitempty"`
	ArrivalMin int    `json:"arrival_min"`
}

type RouteRef struct {
	FeedID  int    `json:"feed_id"`
	RouteID string `json:"route_id"`
	Name    string `json:"name"`
	Agency  string `json:"agency,omitempty"`
}

func stopRef(occ *schedule.StopOccurrence) StopRef {
	ref := StopRef{StopID: occ.Stop.StopID, Name: occ.Stop.Name, ArrivalMin: occ.ArrivalMin}
	if occ.Route != nil {
		ref.RouteID = occ.Route.RouteID
	}
	return ref
}

func routeRef(r *schedule.Route) RouteRef {
	ref := RouteRef{FeedID: r.FeedID, RouteID: r.RouteID, Name: r.Name()}
	if r.Agency != nil {
		ref.Agency = r.Agency.Name
	}
	return ref
}
