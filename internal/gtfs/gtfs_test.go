package gtfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/logging"
)

func writeFeed(t *testing.T, tables map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range tables {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func minimalFeed() map[string]string {
	return map[string]string{
		TableAgency: "agency_id,agency_name,agency_url,agency_timezone\nA,Metro,http://example.com,America/New_York\n",
		TableRoutes: "route_id,agency_id,route_short_name,route_long_name,route_type\nR1,A,1,Main St,3\n",
		TableTrips:  "\ufeffroute_id,service_id,trip_id,shape_id\nR1,WK,T1,S1\n",
		TableStops:  "stop_id,stop_name,stop_lat,stop_lon\nS1,First,43.50,-70.20\nS2,Second,43.51,-70.21\nBAD,Broken,north,-70\n",
		TableStopTimes: "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
			"T1,08:00:00,08:00:00,S1,1\nT1,8:10:00,08:11:00,S2,2\n",
		TableCalendar: "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
			"WK,1,1,1,1,1,0,0,20260101,20261231\n",
		TableShapes: "shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence\nS1,43.50,-70.20,1\nS1,43.51,-70.21,2\n",
	}
}

func TestLoadFeedFromDirectory(t *testing.T) {
	dir := writeFeed(t, minimalFeed())

	feed, err := LoadFeed(context.Background(), DirSource{Dir: dir}, logging.Nop())
	require.NoError(t, err)

	require.Len(t, feed.Agencies, 1)
	require.Len(t, feed.Routes, 1)
	assert.Equal(t, "1", feed.Routes[0].Name())
	require.Len(t, feed.Trips, 1)
	assert.Equal(t, "T1", feed.Trips[0].TripID, "BOM on the first header must not hide the column")
	assert.Len(t, feed.Stops, 2, "row with an unparseable latitude is skipped")
	require.Len(t, feed.StopTimes, 2)
	assert.Equal(t, 8*3600+10*60, feed.StopTimes[1].ArrivalSec)
	assert.Equal(t, 8*3600+11*60, feed.StopTimes[1].DepartureSec)
	require.Len(t, feed.Calendars, 1)
	assert.True(t, feed.Calendars[0].Days[time.Monday])
	assert.False(t, feed.Calendars[0].Days[time.Sunday])
	assert.Len(t, feed.Shapes, 2)
	assert.Empty(t, feed.CalendarDates, "optional table may be absent")
}

func TestLoadFeedReportsAllMissingTables(t *testing.T) {
	tables := minimalFeed()
	delete(tables, TableShapes)
	delete(tables, TableCalendar)
	dir := writeFeed(t, tables)

	_, err := LoadFeed(context.Background(), DirSource{Dir: dir}, logging.Nop())
	require.Error(t, err)

	var missing *MissingTablesError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{TableCalendar + " or " + TableCalendarDates, TableShapes}, missing.Tables)
}

func TestActiveServiceIDs(t *testing.T) {
	feed := &Feed{
		Calendars: []Calendar{
			{ServiceID: "WK", Days: [7]bool{time.Monday: true, time.Tuesday: true}, StartDate: "20260101", EndDate: "20261231"},
			{ServiceID: "OLD", Days: [7]bool{time.Monday: true}, StartDate: "20200101", EndDate: "20201231"},
		},
		CalendarDates: []CalendarDate{
			{ServiceID: "HOL", Date: "20261019", ExceptionType: ExceptionAdded},
			{ServiceID: "WK", Date: "20261020", ExceptionType: ExceptionRemoved},
		},
	}

	monday := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, map[string]struct{}{"WK": {}, "HOL": {}}, feed.ActiveServiceIDs(monday))

	tuesday := monday.AddDate(0, 0, 1)
	assert.Empty(t, feed.ActiveServiceIDs(tuesday))
}

func TestParseDaySeconds(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"00:00:00", 0},
		{"08:30:15", 8*3600 + 30*60 + 15},
		{"7:05:00", 7*3600 + 5*60},
		{"25:10:00", 25*3600 + 10*60},
		{"12:30", 12*3600 + 30*60},
		{"", 0},
		{"noon", 0},
		{"1:2:3:4", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDaySeconds(tt.in))
		})
	}
	assert.Equal(t, 510, TimeToMinutes("08:30:59"))
	assert.Equal(t, "08:30:00", MinutesToTime(510))
	assert.Equal(t, "00:00:00", MinutesToTime(-20))
}

func TestGeometry(t *testing.T) {
	assert.InDelta(t, 111300.0, DistanceMeters(43, -70, 44, -70), 1e-6)
	assert.InDelta(t, 85300.0*85300.0, RawDistanceMeters(43, -70, 43, -71), 1e-3)
	assert.InDelta(t, 0.0, Bearing(43, -70, 44, -70), 1e-9)
	assert.InDelta(t, 90.0, Bearing(0, 10, 0, 11), 1e-9)
	assert.InDelta(t, 270.0, Bearing(0, 11, 0, 10), 1e-9)
	assert.InDelta(t, 111195.0, Haversine(0, 0, 1, 0), 1.0)
	assert.InDelta(t, 35.0, MpsToMph(MphToMps(35)), 1e-3)
}

func TestParseGSURI(t *testing.T) {
	bucket, prefix, err := ParseGSURI("gs://transit-feeds/metro/2026/")
	require.NoError(t, err)
	assert.Equal(t, "transit-feeds", bucket)
	assert.Equal(t, "metro/2026", prefix)

	_, _, err = ParseGSURI("s3://bucket")
	assert.Error(t, err)
	_, _, err = ParseGSURI("gs:///prefix")
	assert.Error(t, err)
}
