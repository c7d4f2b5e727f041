// Package api serves a read-only view of the tracker over HTTP: live
// vehicles, the current stop window, loaded feeds and a GTFS-Realtime
// vehicle positions feed.
package api

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/logging"
	"transit-tracker/internal/schedule"
	"transit-tracker/internal/stopwindow"
	"transit-tracker/internal/tracker"
)

type Vehicles interface {
	Snapshot() []tracker.State
	Get(id int16) (tracker.State, bool)
}

type StopWindow interface {
	Current() *stopwindow.Index
}

// FeedInfo describes one compiled schedule.
type FeedInfo struct {
	ID       int             `json:"id"`
	Name     string          `json:"name"`
	Source   string          `json:"source"`
	Day      string          `json:"service_day"`
	Paths    int             `json:"paths"`
	Trips    int             `json:"trips"`
	Bounds   schedule.Bounds `json:"bounds"`
	LoadedAt time.Time       `json:"loaded_at"`
}

// NewFeedInfo summarizes s as loaded from source.
func NewFeedInfo(s *schedule.Schedule, source string, loadedAt time.Time) FeedInfo {
	return FeedInfo{
		ID:       s.FeedID,
		Name:     s.Name,
		Source:   source,
		Day:      s.Day.Format("2006-01-02"),
		Paths:    len(s.Paths()),
		Trips:    len(s.Trips()),
		Bounds:   s.Bounds(),
		LoadedAt: loadedAt,
	}
}

type API struct {
	vehicles Vehicles
	window   StopWindow
	log      logging.Logger

	// Now stamps GTFS-Realtime headers; tests replace it.
	Now func() time.Time

	mu    sync.RWMutex
	feeds map[int]FeedInfo
}

func New(vehicles Vehicles, window StopWindow, log logging.Logger) *API {
	return &API{
		vehicles: vehicles,
		window:   window,
		log:      log,
		Now:      time.Now,
		feeds:    make(map[int]FeedInfo),
	}
}

// SetFeed records or replaces the summary of a loaded feed.
func (a *API) SetFeed(info FeedInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[info.ID] = info
}

func (a *API) Routes() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/healthz", a.healthHandler)
	router.HandlerFunc(http.MethodGet, "/vehicles", a.vehiclesHandler)
	router.HandlerFunc(http.MethodGet, "/vehicles/:id", a.vehicleHandler)
	router.HandlerFunc(http.MethodGet, "/stops/window", a.stopWindowHandler)
	router.HandlerFunc(http.MethodGet, "/stops/near", a.stopsNearHandler)
	router.HandlerFunc(http.MethodGet, "/feeds", a.feedsHandler)
	router.HandlerFunc(http.MethodGet, "/gtfs-rt/vehicle-positions", a.vehiclePositionsHandler)
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.errorResponse(w, http.StatusNotFound, "not found")
	})
	return router
}

// Serve starts an HTTP server for the API on addr.
func (a *API) Serve(addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("api server error", "error", err)
		}
	}()
	a.log.Info("api listening", "addr", addr)
	return srv
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (a *API) vehiclesHandler(w http.ResponseWriter, r *http.Request) {
	a.sendJSON(w, readyStates(a.vehicles.Snapshot()))
}

func (a *API) vehicleHandler(w http.ResponseWriter, r *http.Request) {
	params := httprouter.ParamsFromContext(r.Context())
	id, err := strconv.ParseInt(params.ByName("id"), 10, 16)
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "invalid vehicle id")
		return
	}
	st, ok := a.vehicles.Get(int16(id))
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "vehicle not found")
		return
	}
	a.sendJSON(w, st)
}

type coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type windowSummary struct {
	BuiltAt     time.Time    `json:"built_at"`
	Coordinates int          `json:"coordinates"`
	Occurrences int          `json:"occurrences"`
	Points      []coordinate `json:"points"`
}

func (a *API) stopWindowHandler(w http.ResponseWriter, r *http.Request) {
	ix := a.window.Current()
	keys := ix.AllCoordinates()
	summary := windowSummary{
		BuiltAt:     ix.BuiltAt(),
		Coordinates: ix.Len(),
		Occurrences: ix.Occurrences(),
		Points:      make([]coordinate, 0, len(keys)),
	}
	for _, k := range keys {
		lat, lon := k.LatLon()
		summary.Points = append(summary.Points, coordinate{Lat: lat, Lon: lon})
	}
	a.sendJSON(w, summary)
}

type nearbyStop struct {
	StopID     string `json:"stop_id"`
	Name       string `json:"name"`
	RouteID    string `json:"route_id,omitempty"`
	TripID     string `json:"trip_id,omitempty"`
	ArrivalMin int    `json:"arrival_min"`
	Arrival    string `json:"arrival"`
}

type nearbyResponse struct {
	Lat            float64      `json:"lat"`
	Lon            float64      `json:"lon"`
	DistanceMeters float64      `json:"distance_meters"`
	Stops          []nearbyStop `json:"stops"`
}

func (a *API) stopsNearHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		a.errorResponse(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	key, stack, ok := a.window.Current().Closest(lat, lon)
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "stop window is empty")
		return
	}
	kLat, kLon := key.LatLon()
	resp := nearbyResponse{
		Lat:            kLat,
		Lon:            kLon,
		DistanceMeters: gtfs.DistanceMeters(lat, lon, kLat, kLon),
		Stops:          make([]nearbyStop, 0, len(stack)),
	}
	for _, occ := range stack {
		s := nearbyStop{
			StopID:     occ.Stop.StopID,
			Name:       occ.Stop.Name,
			ArrivalMin: occ.ArrivalMin,
			Arrival:    gtfs.MinutesToTime(occ.ArrivalMin),
		}
		if occ.Route != nil {
			s.RouteID = occ.Route.RouteID
		}
		if occ.Trip != nil {
			s.TripID = occ.Trip.TripID
		}
		resp.Stops = append(resp.Stops, s)
	}
	a.sendJSON(w, resp)
}

func (a *API) feedsHandler(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	feeds := make([]FeedInfo, 0, len(a.feeds))
	for _, f := range a.feeds {
		feeds = append(feeds, f)
	}
	a.mu.RUnlock()
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID < feeds[j].ID })
	a.sendJSON(w, feeds)
}

func readyStates(states []tracker.State) []tracker.State {
	out := make([]tracker.State, 0, len(states))
	for _, st := range states {
		if st.Ready {
			out = append(out, st)
		}
	}
	return out
}
