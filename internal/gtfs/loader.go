package gtfs

import (
	"context"
	"encoding/csv"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"transit-tracker/internal/logging"
)

const (
	TableAgency        = "agency.txt"
	TableRoutes        = "routes.txt"
	TableTrips         = "trips.txt"
	TableStops         = "stops.txt"
	TableStopTimes     = "stop_times.txt"
	TableCalendar      = "calendar.txt"
	TableCalendarDates = "calendar_dates.txt"
	TableShapes        = "shapes.txt"
)

// TableSource opens one GTFS table by file name. A missing table must be
// reported with an error matching fs.ErrNotExist.
type TableSource interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	String() string
}

// DirSource reads tables from a local directory.
type DirSource struct {
	Dir string
}

func (s DirSource) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.Dir, name))
}

func (s DirSource) String() string { return s.Dir }

// MissingTablesError lists every required table a feed lacks.
type MissingTablesError struct {
	Tables []string
}

func (e *MissingTablesError) Error() string {
	return "missing required tables: " + strings.Join(e.Tables, ", ")
}

// Validate reports the required tables that loaded empty.
func (f *Feed) Validate() error {
	var missing []string
	if len(f.Calendars) == 0 && len(f.CalendarDates) == 0 {
		missing = append(missing, TableCalendar+" or "+TableCalendarDates)
	}
	if len(f.StopTimes) == 0 {
		missing = append(missing, TableStopTimes)
	}
	if len(f.Stops) == 0 {
		missing = append(missing, TableStops)
	}
	if len(f.Trips) == 0 {
		missing = append(missing, TableTrips)
	}
	if len(f.Shapes) == 0 {
		missing = append(missing, TableShapes)
	}
	if len(f.Routes) == 0 {
		missing = append(missing, TableRoutes)
	}
	if len(missing) > 0 {
		return &MissingTablesError{Tables: missing}
	}
	return nil
}

// LoadFeed reads every table from src and validates the result.
func LoadFeed(ctx context.Context, src TableSource, log logging.Logger) (*Feed, error) {
	f := &Feed{}
	var err error
	if f.Agencies, err = loadTable(ctx, src, TableAgency, agencyColumns, log); err != nil {
		return nil, err
	}
	if f.Routes, err = loadTable(ctx, src, TableRoutes, routeColumns, log); err != nil {
		return nil, err
	}
	if f.Trips, err = loadTable(ctx, src, TableTrips, tripColumns, log); err != nil {
		return nil, err
	}
	if f.Stops, err = loadTable(ctx, src, TableStops, stopColumns, log); err != nil {
		return nil, err
	}
	if f.StopTimes, err = loadTable(ctx, src, TableStopTimes, stopTimeColumns, log); err != nil {
		return nil, err
	}
	if f.Calendars, err = loadTable(ctx, src, TableCalendar, calendarColumns, log); err != nil {
		return nil, err
	}
	if f.CalendarDates, err = loadTable(ctx, src, TableCalendarDates, calendarDateColumns, log); err != nil {
		return nil, err
	}
	if f.Shapes, err = loadTable(ctx, src, TableShapes, shapeColumns, log); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, errors.Wrapf(err, "feed %s", src)
	}
	return f, nil
}

func loadTable[T any](ctx context.Context, src TableSource, name string, cols columns[T], log logging.Logger) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rc, err := src.Open(ctx, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug("table not present", "source", src.String(), "table", name)
			return nil, nil
		}
		return nil, errors.Wrapf(err, "open %s", name)
	}
	defer rc.Close()

	rows, skipped, err := readTable(rc, cols)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	if skipped > 0 {
		log.Warn("skipped malformed rows", "source", src.String(), "table", name, "rows", skipped)
	}
	log.Info("table loaded", "source", src.String(), "table", name, "records", len(rows))
	return rows, nil
}

// columns maps a header name to the setter for that field. Unknown headers
// are ignored; empty cells leave the zero value.
type columns[T any] map[string]func(*T, string) error

func readTable[T any](r io.Reader, cols columns[T]) ([]T, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "read header")
	}
	type binding struct {
		idx int
		set func(*T, string) error
	}
	var bindings []binding
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if set, ok := cols[h]; ok {
			bindings = append(bindings, binding{idx: i, set: set})
		}
	}

	var out []T
	skipped := 0
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, skipped, errors.Wrapf(err, "line %d", line)
		}
		var v T
		ok := true
		for _, b := range bindings {
			if b.idx >= len(record) {
				continue
			}
			cell := strings.TrimSpace(record[b.idx])
			if cell == "" {
				continue
			}
			if err := b.set(&v, cell); err != nil {
				ok = false
				break
			}
		}
		if !ok {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped, nil
}

var agencyColumns = columns[Agency]{
	"agency_id":       func(a *Agency, v string) error { a.AgencyID = v; return nil },
	"agency_name":     func(a *Agency, v string) error { a.Name = v; return nil },
	"agency_url":      func(a *Agency, v string) error { a.URL = v; return nil },
	"agency_timezone": func(a *Agency, v string) error { a.Timezone = v; return nil },
}

var routeColumns = columns[Route]{
	"route_id":         func(r *Route, v string) error { r.RouteID = v; return nil },
	"agency_id":        func(r *Route, v string) error { r.AgencyID = v; return nil },
	"route_short_name": func(r *Route, v string) error { r.ShortName = v; return nil },
	"route_long_name":  func(r *Route, v string) error { r.LongName = v; return nil },
	"route_type":       func(r *Route, v string) (err error) { r.Type, err = strconv.Atoi(v); return },
	"route_color":      func(r *Route, v string) error { r.Color = v; return nil },
}

var tripColumns = columns[Trip]{
	"trip_id":       func(t *Trip, v string) error { t.TripID = v; return nil },
	"route_id":      func(t *Trip, v string) error { t.RouteID = v; return nil },
	"service_id":    func(t *Trip, v string) error { t.ServiceID = v; return nil },
	"shape_id":      func(t *Trip, v string) error { t.ShapeID = v; return nil },
	"trip_headsign": func(t *Trip, v string) error { t.Headsign = v; return nil },
	"direction_id":  func(t *Trip, v string) (err error) { t.DirectionID, err = strconv.Atoi(v); return },
	"block_id":      func(t *Trip, v string) error { t.BlockID = v; return nil },
}

var stopColumns = columns[Stop]{
	"stop_id":   func(s *Stop, v string) error { s.StopID = v; return nil },
	"stop_code": func(s *Stop, v string) error { s.Code = v; return nil },
	"stop_name": func(s *Stop, v string) error { s.Name = v; return nil },
	"stop_lat":  func(s *Stop, v string) (err error) { s.Lat, err = strconv.ParseFloat(v, 64); return },
	"stop_lon":  func(s *Stop, v string) (err error) { s.Lon, err = strconv.ParseFloat(v, 64); return },
}

var stopTimeColumns = columns[StopTime]{
	"trip_id":             func(st *StopTime, v string) error { st.TripID = v; return nil },
	"stop_id":             func(st *StopTime, v string) error { st.StopID = v; return nil },
	"stop_sequence":       func(st *StopTime, v string) (err error) { st.StopSequence, err = strconv.Atoi(v); return },
	"arrival_time":        func(st *StopTime, v string) error { st.ArrivalSec = ParseDaySeconds(v); return nil },
	"departure_time":      func(st *StopTime, v string) error { st.DepartureSec = ParseDaySeconds(v); return nil },
	"shape_dist_traveled": func(st *StopTime, v string) (err error) { st.ShapeDistTraveled, err = strconv.ParseFloat(v, 64); return },
}

var calendarColumns = columns[Calendar]{
	"service_id": func(c *Calendar, v string) error { c.ServiceID = v; return nil },
	"monday":     dayColumn(time.Monday),
	"tuesday":    dayColumn(time.Tuesday),
	"wednesday":  dayColumn(time.Wednesday),
	"thursday":   dayColumn(time.Thursday),
	"friday":     dayColumn(time.Friday),
	"saturday":   dayColumn(time.Saturday),
	"sunday":     dayColumn(time.Sunday),
	"start_date": func(c *Calendar, v string) error { c.StartDate = v; return checkDate(v) },
	"end_date":   func(c *Calendar, v string) error { c.EndDate = v; return checkDate(v) },
}

var calendarDateColumns = columns[CalendarDate]{
	"service_id":     func(c *CalendarDate, v string) error { c.ServiceID = v; return nil },
	"date":           func(c *CalendarDate, v string) error { c.Date = v; return checkDate(v) },
	"exception_type": func(c *CalendarDate, v string) (err error) { c.ExceptionType, err = strconv.Atoi(v); return },
}

var shapeColumns = columns[ShapePoint]{
	"shape_id":            func(p *ShapePoint, v string) error { p.ShapeID = v; return nil },
	"shape_pt_lat":        func(p *ShapePoint, v string) (err error) { p.Lat, err = strconv.ParseFloat(v, 64); return },
	"shape_pt_lon":        func(p *ShapePoint, v string) (err error) { p.Lon, err = strconv.ParseFloat(v, 64); return },
	"shape_pt_sequence":   func(p *ShapePoint, v string) (err error) { p.Sequence, err = strconv.Atoi(v); return },
	"shape_dist_traveled": func(p *ShapePoint, v string) (err error) { p.DistTraveled, err = strconv.ParseFloat(v, 64); return },
}

func dayColumn(d time.Weekday) func(*Calendar, string) error {
	return func(c *Calendar, v string) error {
		switch v {
		case "1":
			c.Days[d] = true
		case "0":
			c.Days[d] = false
		default:
			return errors.Errorf("invalid day flag %q", v)
		}
		return nil
	}
}

func checkDate(v string) error {
	_, err := time.Parse(dateLayout, v)
	return err
}
