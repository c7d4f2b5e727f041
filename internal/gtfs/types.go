package gtfs

import "time"

type Agency struct {
	AgencyID string
	Name     string
	URL      string
	Timezone string
}

type Route struct {
	RouteID   string
	AgencyID  string
	ShortName string
	LongName  string
	Type      int
	Color     string
}

// Name prefers the short name, as riders know it.
func (r *Route) Name() string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.LongName
}

type Trip struct {
	TripID      string
	RouteID     string
	ServiceID   string
	ShapeID     string
	Headsign    string
	DirectionID int
	BlockID     string
}

type Stop struct {
	StopID string
	Code   string
	Name   string
	Lat    float64
	Lon    float64
}

type StopTime struct {
	TripID            string
	StopID            string
	StopSequence      int
	ArrivalSec        int     // seconds since midnight (can exceed 24h); 0 if untimed
	DepartureSec      int     // seconds since midnight (can exceed 24h); 0 if untimed
	ShapeDistTraveled float64 // 0 if missing
}

type Calendar struct {
	ServiceID string
	Days      [7]bool // indexed by time.Weekday
	StartDate string  // YYYYMMDD
	EndDate   string  // YYYYMMDD
}

const (
	ExceptionAdded   = 1
	ExceptionRemoved = 2
)

type CalendarDate struct {
	ServiceID     string
	Date          string // YYYYMMDD
	ExceptionType int
}

type ShapePoint struct {
	ShapeID      string
	Lat          float64
	Lon          float64
	Sequence     int
	DistTraveled float64 // meters, if available; 0 if missing
}

// Feed is one loaded schedule dataset. It is not modified after load.
type Feed struct {
	Agencies      []Agency
	Routes        []Route
	Trips         []Trip
	Stops         []Stop
	StopTimes     []StopTime
	Calendars     []Calendar
	CalendarDates []CalendarDate
	Shapes        []ShapePoint
}

const dateLayout = "20060102"

// ActiveServiceIDs returns the service ids running on day's calendar date.
func (f *Feed) ActiveServiceIDs(day time.Time) map[string]struct{} {
	active := make(map[string]struct{})
	date := day.Format(dateLayout)
	for _, c := range f.Calendars {
		if c.StartDate != "" && date < c.StartDate {
			continue
		}
		if c.EndDate != "" && date > c.EndDate {
			continue
		}
		if c.Days[day.Weekday()] {
			active[c.ServiceID] = struct{}{}
		}
	}
	for _, cd := range f.CalendarDates {
		if cd.Date != date {
			continue
		}
		switch cd.ExceptionType {
		case ExceptionAdded:
			active[cd.ServiceID] = struct{}{}
		case ExceptionRemoved:
			delete(active, cd.ServiceID)
		}
	}
	return active
}
