package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/tracker"
)

func TestCollectorCountsBeacons(t *testing.T) {
	c := NewCollector(10, 15, 300*time.Second)

	c.BeaconHandled(true, "", time.Millisecond)
	c.BeaconHandled(true, "", time.Millisecond)
	c.BeaconHandled(false, "decrypt", time.Millisecond)
	c.PoolSaturated()
	c.WorkersBusy(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Beacons.WithLabelValues("ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Beacons.WithLabelValues("nack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.BeaconFailures.WithLabelValues("decrypt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.PoolSaturation))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.WorkersBusyG))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.BufferSize))
	assert.Equal(t, 300.0, testutil.ToFloat64(c.VehicleTimeout))
}

func TestCollectorWindowAndVehicles(t *testing.T) {
	c := NewCollector(10, 15, time.Minute)
	c.ObserveRebuild(time.Millisecond, 12, 40)
	c.VehicleRemoved(4)
	c.VehicleUpdated(tracker.State{ID: 4, ProbableRoutes: []tracker.RouteRef{{RouteID: "R1"}}})
	c.FeedLoaded("metro", 7)
	c.NATSSetConnected(true)

	assert.Equal(t, 12.0, testutil.ToFloat64(c.WindowCoordinates))
	assert.Equal(t, 40.0, testutil.ToFloat64(c.WindowOccurrences))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.VehiclesRemoved))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.FeedPaths.WithLabelValues("metro")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector(10, 15, time.Minute)
	c.TrackVehicles(func() int { return 5 })

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), "tracker_vehicles 5"), string(body))
	assert.Contains(t, string(body), "tracker_stop_window_margin_minutes 15")
}
