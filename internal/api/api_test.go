package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/logging"
	"transit-tracker/internal/schedule"
	"transit-tracker/internal/stopwindow"
	"transit-tracker/internal/tracker"
)

type fakeVehicles []tracker.State

func (f fakeVehicles) Snapshot() []tracker.State { return f }

func (f fakeVehicles) Get(id int16) (tracker.State, bool) {
	for _, st := range f {
		if st.ID == id {
			return st, true
		}
	}
	return tracker.State{}, false
}

var ts = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func testAPI(t *testing.T) (*API, *stopwindow.Window) {
	t.Helper()
	vehicles := fakeVehicles{
		{
			ID: 7, Ready: true, Lat: 43.5, Lon: -70.2, Heading: 90, HasHeading: true, SpeedMps: 8, Timestamp: ts,
			ClosestStops:   []tracker.StopRef{{StopID: "A"}},
			ProbableRoutes: []tracker.RouteRef{{FeedID: 1, RouteID: "R1"}},
		},
		{ID: 9, Timestamp: ts},
	}
	w := stopwindow.NewWindow(nil)
	a := New(vehicles, w, logging.Nop())
	a.Now = func() time.Time { return ts }
	return a, w
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	a, _ := testAPI(t)
	rec := get(t, a.Routes(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestVehiclesListsReadyOnly(t *testing.T) {
	a, _ := testAPI(t)
	rec := get(t, a.Routes(), "/vehicles")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []tracker.State
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, int16(7), got[0].ID)
}

func TestVehicleByID(t *testing.T) {
	a, _ := testAPI(t)
	h := a.Routes()

	rec := get(t, h, "/vehicles/9")
	require.Equal(t, http.StatusOK, rec.Code)
	var st tracker.State
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, int16(9), st.ID)
	assert.False(t, st.Ready)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/vehicles/3").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/vehicles/abc").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/vehicles/40000").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/nothing").Code)
}

func windowStops() []*schedule.StopOccurrence {
	route := &schedule.Route{Route: gtfs.Route{RouteID: "R1"}}
	trip := &schedule.Trip{Trip: gtfs.Trip{TripID: "T1"}}
	stop := &gtfs.Stop{StopID: "A", Name: "Main St", Lat: 43.5, Lon: -70.2}
	return []*schedule.StopOccurrence{
		{Stop: stop, ArrivalMin: 485, Route: route, Trip: trip},
		{Stop: stop, ArrivalMin: 495, Route: route, Trip: trip},
		{Stop: &gtfs.Stop{StopID: "B", Lat: 43.6, Lon: -70.3}, ArrivalMin: 490, Route: route, Trip: trip},
	}
}

func TestStopWindowSummary(t *testing.T) {
	a, w := testAPI(t)
	w.Update(1, windowStops())

	rec := get(t, a.Routes(), "/stops/window")
	require.Equal(t, http.StatusOK, rec.Code)
	var got windowSummary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 2, got.Coordinates)
	assert.Equal(t, 3, got.Occurrences)
	assert.Len(t, got.Points, 2)
}

func TestStopsNear(t *testing.T) {
	a, w := testAPI(t)
	h := a.Routes()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/stops/near?lat=43.5&lon=-70.2").Code, "empty window")
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/stops/near?lat=x").Code)

	w.Update(1, windowStops())
	rec := get(t, h, "/stops/near?lat=43.5001&lon=-70.2")
	require.Equal(t, http.StatusOK, rec.Code)

	var got nearbyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, 43.5, got.Lat)
	assert.InDelta(t, 11.13, got.DistanceMeters, 0.01)
	require.Len(t, got.Stops, 2)
	assert.Equal(t, "Main St", got.Stops[0].Name)
	assert.Equal(t, "T1", got.Stops[0].TripID)
	assert.Equal(t, "08:05:00", got.Stops[0].Arrival)
}

func TestFeeds(t *testing.T) {
	a, _ := testAPI(t)
	a.SetFeed(FeedInfo{ID: 2, Name: "ferry", Paths: 3})
	a.SetFeed(FeedInfo{ID: 1, Name: "metro", Paths: 10})
	a.SetFeed(FeedInfo{ID: 1, Name: "metro", Paths: 12})

	rec := get(t, a.Routes(), "/feeds")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []FeedInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "metro", got[0].Name)
	assert.Equal(t, 12, got[0].Paths)
	assert.Equal(t, "ferry", got[1].Name)
}

func TestVehiclePositionsProtobuf(t *testing.T) {
	a, _ := testAPI(t)
	rec := get(t, a.Routes(), "/gtfs-rt/vehicle-positions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-protobuf", rec.Header().Get("Content-Type"))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	var msg gtfsrt.FeedMessage
	require.NoError(t, proto.Unmarshal(body, &msg))

	assert.Equal(t, gtfsrt.FeedHeader_FULL_DATASET, msg.GetHeader().GetIncrementality())
	assert.Equal(t, uint64(ts.Unix()), msg.GetHeader().GetTimestamp())
	require.Len(t, msg.GetEntity(), 1)

	vp := msg.GetEntity()[0].GetVehicle()
	assert.Equal(t, "7", vp.GetVehicle().GetId())
	assert.Equal(t, float32(43.5), vp.GetPosition().GetLatitude())
	assert.Equal(t, float32(90), vp.GetPosition().GetBearing())
	assert.Equal(t, "R1", vp.GetTrip().GetRouteId())
	assert.Equal(t, "A", vp.GetStopId())
}

func TestVehiclePositionsJSON(t *testing.T) {
	a, _ := testAPI(t)
	rec := get(t, a.Routes(), "/gtfs-rt/vehicle-positions?format=json")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var msg gtfsrt.FeedMessage
	require.NoError(t, protojson.Unmarshal(rec.Body.Bytes(), &msg))
	require.Len(t, msg.GetEntity(), 1)
}

func TestVehiclePositionsOmitsUnknownBearing(t *testing.T) {
	msg := VehiclePositions([]tracker.State{{ID: 1, Ready: true, Timestamp: ts}}, ts)
	require.Len(t, msg.GetEntity(), 1)
	pos := msg.GetEntity()[0].GetVehicle().GetPosition()
	assert.Nil(t, pos.Bearing)
	assert.Nil(t, msg.GetEntity()[0].GetVehicle().GetTrip())
}
