package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-tracker/internal/gtfs"
)

type visit struct {
	stop     string
	lat, lon float64
	min      int
}

type fixture struct {
	routes map[string]*Route
}

func newFixture() *fixture {
	return &fixture{routes: map[string]*Route{}}
}

func (f *fixture) route(id string) *Route {
	r, ok := f.routes[id]
	if !ok {
		r = &Route{Route: gtfs.Route{RouteID: id, ShortName: id}}
		f.routes[id] = r
	}
	return r
}

func (f *fixture) trip(id, routeID, serviceID string, visits ...visit) *Trip {
	t := &Trip{
		Trip:  gtfs.Trip{TripID: id, RouteID: routeID, ServiceID: serviceID},
		Route: f.route(routeID),
	}
	for i, v := range visits {
		t.Vertices = append(t.Vertices, gtfs.ShapePoint{Lat: v.lat, Lon: v.lon, Sequence: i + 1})
		t.Stops = append(t.Stops, &StopOccurrence{
			Stop:         &gtfs.Stop{StopID: v.stop, Lat: v.lat, Lon: v.lon},
			Sequence:     i + 1,
			ArrivalMin:   v.min,
			DepartureMin: v.min,
			Route:        t.Route,
			Trip:         t,
		})
	}
	t.computeTimes()
	return t
}

func matchOpts() PathOptions {
	return PathOptions{ClosenessMeters: 50, JoinTimeThreshold: DefaultJoinTimeThreshold, MatchStops: true}
}

func membership(paths []*RoutePath) [][]string {
	out := make([][]string, len(paths))
	for i, p := range paths {
		out[i] = p.TripIDs()
	}
	return out
}

func chain(f *fixture) []*Trip {
	// listed out of order on purpose
	return []*Trip{
		f.trip("T3", "R1", "WK", visit{"C", 43.52, -70.22, 500}, visit{"D", 43.53, -70.23, 510}),
		f.trip("T1", "R1", "WK", visit{"A", 43.50, -70.20, 480}, visit{"B", 43.51, -70.21, 490}),
		f.trip("T2", "R1", "WK", visit{"B", 43.51, -70.21, 490}, visit{"C", 43.52, -70.22, 500}),
	}
}

func TestBuildPathsJoinsChainInScheduleOrder(t *testing.T) {
	paths := BuildPaths(chain(newFixture()), matchOpts())

	require.Len(t, paths, 1)
	p := paths[0]
	assert.Equal(t, []string{"T1", "T2", "T3"}, p.TripIDs())
	assert.Equal(t, "R1", p.Route.RouteID)
	assert.Equal(t, "WK", p.ServiceID)
	assert.Equal(t, 480, p.StartMin)
	assert.Equal(t, 510, p.EndMin)
	require.Len(t, p.Stops, 6)
	for i, occ := range p.Stops {
		assert.Same(t, p, occ.Path)
		if i+1 < len(p.Stops) {
			assert.Same(t, p.Stops[i+1], occ.Next)
			assert.LessOrEqual(t, occ.ArrivalMin, p.Stops[i+1].ArrivalMin)
		} else {
			assert.Nil(t, occ.Next)
		}
	}
}

func TestBuildPathsLeavesUnjoinableTripsAlone(t *testing.T) {
	f := newFixture()
	trips := []*Trip{
		// different route
		f.trip("T1", "R1", "WK", visit{"A", 43.50, -70.20, 480}, visit{"B", 43.51, -70.21, 490}),
		f.trip("T2", "R2", "WK", visit{"B", 43.51, -70.21, 490}, visit{"C", 43.52, -70.22, 500}),
		// different service
		f.trip("T3", "R1", "SA", visit{"B", 43.51, -70.21, 490}, visit{"C", 43.52, -70.22, 500}),
		// gap of one minute
		f.trip("T4", "R1", "WK", visit{"B", 43.51, -70.21, 491}, visit{"E", 43.55, -70.25, 520}),
		// negative gap
		f.trip("T5", "R1", "WK", visit{"B", 43.51, -70.21, 485}, visit{"F", 43.56, -70.26, 495}),
	}

	paths := BuildPaths(trips, matchOpts())

	require.Len(t, paths, len(trips))
	for _, p := range paths {
		assert.Len(t, p.Trips, 1)
	}
	assert.ElementsMatch(t, [][]string{{"T1"}, {"T2"}, {"T3"}, {"T4"}, {"T5"}}, membership(paths))
}

func TestBuildPathsIsReproducible(t *testing.T) {
	first := membership(BuildPaths(chain(newFixture()), matchOpts()))
	second := membership(BuildPaths(chain(newFixture()), matchOpts()))
	assert.Equal(t, first, second)

	f := newFixture()
	tied := []*Trip{
		f.trip("B", "R1", "WK", visit{"X", 43.5, -70.2, 480}, visit{"Y", 43.6, -70.3, 490}),
		f.trip("A", "R1", "WK", visit{"X", 43.5, -70.2, 480}, visit{"Y", 43.6, -70.3, 490}),
	}
	paths := BuildPaths(tied, matchOpts())
	require.Len(t, paths, 2)
	assert.Equal(t, [][]string{{"A"}, {"B"}}, membership(paths), "equal start times order by trip id")
}

func TestBuildPathsSkipsTripsWithoutVertices(t *testing.T) {
	f := newFixture()
	trips := chain(f)
	trips[0].Vertices = nil // T3

	paths := BuildPaths(trips, matchOpts())

	require.Len(t, paths, 1)
	assert.Equal(t, []string{"T1", "T2"}, paths[0].TripIDs())
}

func TestBuildPathsJoinsCloseEndpoints(t *testing.T) {
	f := newFixture()
	// ~11m apart, different stop ids
	trips := []*Trip{
		f.trip("T1", "R1", "WK", visit{"A", 43.50, -70.20, 480}, visit{"B", 43.5100, -70.21, 490}),
		f.trip("T2", "R1", "WK", visit{"B2", 43.5101, -70.21, 490}, visit{"C", 43.52, -70.22, 500}),
	}
	paths := BuildPaths(trips, matchOpts())
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"T1", "T2"}, paths[0].TripIDs())

	opts := matchOpts()
	opts.ClosenessMeters = 5
	paths = BuildPaths(trips, opts)
	assert.Len(t, paths, 2)
}

func TestRejoinBridgesTimeGaps(t *testing.T) {
	f := newFixture()
	trips := []*Trip{
		f.trip("T1", "R1", "WK", visit{"A", 43.50, -70.20, 480}, visit{"B", 43.51, -70.21, 490}),
		f.trip("T2", "R1", "WK", visit{"Z", 43.70, -70.40, 495}, visit{"C", 43.52, -70.22, 505}),
	}
	paths := BuildPaths(trips, matchOpts())
	require.Len(t, paths, 2)

	paths = Rejoin(paths, PathOptions{JoinTimeThreshold: 10})
	require.Len(t, paths, 1)
	assert.Equal(t, []string{"T1", "T2"}, paths[0].TripIDs())
	assert.Same(t, paths[0].Stops[2], paths[0].Stops[1].Next)
}

func TestJoinThresholdIsConfigurable(t *testing.T) {
	f := newFixture()
	trips := []*Trip{
		f.trip("T1", "R1", "WK", visit{"A", 43.50, -70.20, 480}, visit{"B", 43.51, -70.21, 490}),
		f.trip("T2", "R1", "WK", visit{"B", 43.51, -70.21, 492}, visit{"C", 43.52, -70.22, 500}),
	}
	assert.Len(t, BuildPaths(trips, matchOpts()), 2)

	opts := matchOpts()
	opts.JoinTimeThreshold = 2
	assert.Len(t, BuildPaths(trips, opts), 1)
}
