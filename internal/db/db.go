package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"transit-tracker/internal/gtfs"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// LoadFeed reads a whole GTFS import into a gtfs.Feed. Tables are expected
// in the public schema with their GTFS names; stop and shape coordinates may
// be plain lat/lon columns or PostGIS geography points. Optional tables that
// do not exist load empty, and the result is checked with Feed.Validate.
func LoadFeed(ctx context.Context, db *sql.DB) (*gtfs.Feed, error) {
	tables, err := existingTables(ctx, db, "public",
		"agency", "routes", "trips", "stops", "stop_times", "calendar", "calendar_dates", "shapes")
	if err != nil {
		return nil, fmt.Errorf("introspect tables: %w", err)
	}

	feed := &gtfs.Feed{}
	if tables["agency"] {
		if feed.Agencies, err = fetchAgencies(ctx, db); err != nil {
			return nil, err
		}
	}
	if tables["routes"] {
		if feed.Routes, err = fetchRoutes(ctx, db); err != nil {
			return nil, err
		}
	}
	if tables["trips"] {
		if feed.Trips, err = fetchTrips(ctx, db); err != nil {
			return nil, err
		}
	}
	if tables["stops"] {
		if feed.Stops, err = fetchStops(ctx, db); err != nil {
			return nil, err
		}
	}
	if tables["stop_times"] {
		if feed.StopTimes, err = fetchStopTimes(ctx, db); err != nil {
			return nil, err
		}
	}
	if tables["calendar"] {
		if feed.Calendars, err = fetchCalendars(ctx, db); err != nil {
			return nil, err
		}
	}
	if tables["calendar_dates"] {
		if feed.CalendarDates, err = fetchCalendarDates(ctx, db); err != nil {
			return nil, err
		}
	}
	if tables["shapes"] {
		if feed.Shapes, err = fetchShapePoints(ctx, db); err != nil {
			return nil, err
		}
	}
	if err := feed.Validate(); err != nil {
		return nil, err
	}
	return feed, nil
}

func fetchAgencies(ctx context.Context, db *sql.DB) ([]gtfs.Agency, error) {
	q := `SELECT COALESCE(agency_id, ''), COALESCE(agency_name, ''),
                 COALESCE(agency_url, ''), COALESCE(agency_timezone::text, '')
          FROM agency`
	return queryAll(ctx, db, "agency", q, func(rows *sql.Rows) (gtfs.Agency, error) {
		var a gtfs.Agency
		err := rows.Scan(&a.AgencyID, &a.Name, &a.URL, &a.Timezone)
		return a, err
	})
}

func fetchRoutes(ctx context.Context, db *sql.DB) ([]gtfs.Route, error) {
	// route_type is an enum in some importers; read it as text.
	q := `SELECT route_id, COALESCE(agency_id, ''), COALESCE(route_short_name, ''),
                 COALESCE(route_long_name, ''), COALESCE(route_type::text, ''), COALESCE(route_color, '')
          FROM routes`
	return queryAll(ctx, db, "routes", q, func(rows *sql.Rows) (gtfs.Route, error) {
		var r gtfs.Route
		var typ string
		if err := rows.Scan(&r.RouteID, &r.AgencyID, &r.ShortName, &r.LongName, &typ, &r.Color); err != nil {
			return r, err
		}
		r.Type, _ = strconv.Atoi(typ)
		return r, nil
	})
}

func fetchTrips(ctx context.Context, db *sql.DB) ([]gtfs.Trip, error) {
	q := `SELECT trip_id, route_id, service_id, COALESCE(shape_id, ''), COALESCE(trip_headsign, ''),
                 COALESCE(direction_id::text, ''), COALESCE(block_id, '')
          FROM trips`
	return queryAll(ctx, db, "trips", q, func(rows *sql.Rows) (gtfs.Trip, error) {
		var t gtfs.Trip
		var dir string
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.ServiceID, &t.ShapeID, &t.Headsign, &dir, &t.BlockID); err != nil {
			return t, err
		}
		t.DirectionID = directionID(dir)
		return t, nil
	})
}

func fetchStops(ctx context.Context, db *sql.DB) ([]gtfs.Stop, error) {
	// Prefer stop_lat/stop_lon, but support PostGIS stop_loc geography as fallback
	latlonExists, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon", "stop_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	q, err := stopsQuery(latlonExists)
	if err != nil {
		return nil, err
	}
	return queryAll(ctx, db, "stops", q, func(rows *sql.Rows) (gtfs.Stop, error) {
		var s gtfs.Stop
		err := rows.Scan(&s.StopID, &s.Code, &s.Name, &s.Lat, &s.Lon)
		return s, err
	})
}

func stopsQuery(cols map[string]bool) (string, error) {
	switch {
	case cols["stop_lat"] && cols["stop_lon"]:
		return `SELECT stop_id, COALESCE(stop_code, ''), COALESCE(stop_name, ''),
                       COALESCE(stop_lat, 0), COALESCE(stop_lon, 0)
                FROM stops`, nil
	case cols["stop_loc"]:
		return `SELECT stop_id, COALESCE(stop_code, ''), COALESCE(stop_name, ''),
                       COALESCE(ST_Y(stop_loc::geometry), 0), COALESCE(ST_X(stop_loc::geometry), 0)
                FROM stops`, nil
	default:
		return "", fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
	}
}

func fetchStopTimes(ctx context.Context, db *sql.DB) ([]gtfs.StopTime, error) {
	// arrival_time and departure_time may be stored as text or interval
	q := `SELECT trip_id, stop_id, stop_sequence,
                 COALESCE(arrival_time::text, ''), COALESCE(departure_time::text, ''),
                 COALESCE(shape_dist_traveled, 0)
          FROM stop_times
          ORDER BY trip_id, stop_sequence`
	return queryAll(ctx, db, "stop_times", q, func(rows *sql.Rows) (gtfs.StopTime, error) {
		var st gtfs.StopTime
		var arr, dep string
		if err := rows.Scan(&st.TripID, &st.StopID, &st.StopSequence, &arr, &dep, &st.ShapeDistTraveled); err != nil {
			return st, err
		}
		st.ArrivalSec = gtfs.ParseDaySeconds(arr)
		st.DepartureSec = gtfs.ParseDaySeconds(dep)
		return st, nil
	})
}

func fetchCalendars(ctx context.Context, db *sql.DB) ([]gtfs.Calendar, error) {
	// calendar has booleans (0/1) or an availability enum depending on the importer.
	q := `SELECT service_id,
                 sunday::text, monday::text, tuesday::text, wednesday::text,
                 thursday::text, friday::text, saturday::text,
                 start_date::text, end_date::text
          FROM calendar`
	return queryAll(ctx, db, "calendar", q, func(rows *sql.Rows) (gtfs.Calendar, error) {
		var c gtfs.Calendar
		var days [7]string
		var start, end string
		if err := rows.Scan(&c.ServiceID, &days[0], &days[1], &days[2], &days[3], &days[4], &days[5], &days[6], &start, &end); err != nil {
			return c, err
		}
		for i, d := range days {
			c.Days[i] = dayFlag(d)
		}
		c.StartDate = compactDate(start)
		c.EndDate = compactDate(end)
		return c, nil
	})
}

func fetchCalendarDates(ctx context.Context, db *sql.DB) ([]gtfs.CalendarDate, error) {
	q := `SELECT service_id, date::text, exception_type::text FROM calendar_dates`
	return queryAll(ctx, db, "calendar_dates", q, func(rows *sql.Rows) (gtfs.CalendarDate, error) {
		var cd gtfs.CalendarDate
		var date, exc string
		if err := rows.Scan(&cd.ServiceID, &date, &exc); err != nil {
			return cd, err
		}
		cd.Date = compactDate(date)
		cd.ExceptionType = exceptionType(exc)
		return cd, nil
	})
}

func fetchShapePoints(ctx context.Context, db *sql.DB) ([]gtfs.ShapePoint, error) {
	// Detect column layout: either shape_pt_lat/lon exist, or use PostGIS shape_pt_loc geography
	cols, err := hasColumns(ctx, db, "public", "shapes", "shape_pt_lat", "shape_pt_lon", "shape_pt_loc")
	if err != nil {
		return nil, fmt.Errorf("introspect shapes columns: %w", err)
	}
	q, err := shapesQuery(cols)
	if err != nil {
		return nil, err
	}
	return queryAll(ctx, db, "shapes", q, func(rows *sql.Rows) (gtfs.ShapePoint, error) {
		var p gtfs.ShapePoint
		err := rows.Scan(&p.ShapeID, &p.Lat, &p.Lon, &p.Sequence, &p.DistTraveled)
		return p, err
	})
}

func shapesQuery(cols map[string]bool) (string, error) {
	switch {
	case cols["shape_pt_lat"] && cols["shape_pt_lon"]:
		return `SELECT shape_id, shape_pt_lat, shape_pt_lon, shape_pt_sequence, COALESCE(shape_dist_traveled, 0)
                FROM shapes ORDER BY shape_id, shape_pt_sequence`, nil
	case cols["shape_pt_loc"]:
		return `SELECT shape_id,
                       ST_Y(shape_pt_loc::geometry) AS lat,
                       ST_X(shape_pt_loc::geometry) AS lon,
                       shape_pt_sequence,
                       COALESCE(shape_dist_traveled, 0)
                FROM shapes ORDER BY shape_id, shape_pt_sequence`, nil
	default:
		return "", fmt.Errorf("shapes table missing expected columns (lat/lon or shape_pt_loc)")
	}
}

func queryAll[T any](ctx context.Context, db *sql.DB, table, q string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", table, err)
	}
	return out, nil
}

func dayFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "available":
		return true
	}
	return false
}

func exceptionType(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "added":
		return gtfs.ExceptionAdded
	case "2", "removed":
		return gtfs.ExceptionRemoved
	}
	return 0
}

// directionID maps 0/1 or the importer's direction enum to 0/1.
func directionID(s string) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "inbound":
		return 1
	}
	return 0
}

// compactDate turns a Postgres date ("2026-10-19") into GTFS form ("20261019").
func compactDate(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "-", "")
}

// existingTables reports which of the named tables exist in schema.
func existingTables(ctx context.Context, db *sql.DB, schema string, tables ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(tables))
	q := `SELECT table_name FROM information_schema.tables
          WHERE table_schema = $1 AND table_name = ANY($2)`
	rows, err := db.QueryContext(ctx, q, schema, tables)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}

// hasColumns returns a map of requested column names to existence for the given table.
func hasColumns(ctx context.Context, db *sql.DB, schema, table string, cols ...string) (map[string]bool, error) {
	res := make(map[string]bool, len(cols))
	if len(cols) == 0 {
		return res, nil
	}
	// Initialize to false
	for _, c := range cols {
		res[c] = false
	}
	q := `SELECT column_name FROM information_schema.columns
          WHERE table_schema = $1 AND table_name = $2 AND column_name = ANY($3)`
	rows, err := db.QueryContext(ctx, q, schema, table, cols)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res[name] = true
	}
	return res, rows.Err()
}
