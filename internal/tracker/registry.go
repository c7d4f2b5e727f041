package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"transit-tracker/internal/logging"
	"transit-tracker/internal/stopwindow"
)

var ErrRegistryFull = errors.New("vehicle registry full")

const (
	DefaultBufferSize    = 10
	DefaultTimeout       = 300 * time.Second
	DefaultSweepInterval = time.Second
)

type Config struct {
	BufferSize  int           // coordinate ring capacity, at least 2
	Timeout     time.Duration // staleness after the last sample
	MaxVehicles int           // 0 means unbounded
}

// IndexSource hands out the currently published stop index.
type IndexSource interface {
	Current() *stopwindow.Index
}

// Observer is told about vehicle changes outside the registry locks.
type Observer interface {
	VehicleUpdated(State)
	VehicleRemoved(id int16)
}

// Registry owns every tracked vehicle. The map is guarded by mu and each
// vehicle serializes its own updates.
type Registry struct {
	cfg    Config
	window IndexSource
	log    logging.Logger

	mu       sync.RWMutex
	vehicles map[int16]*Vehicle

	obsMu     sync.RWMutex
	observers []Observer

	// Now is the clock; tests replace it.
	Now func() time.Time
}

func NewRegistry(cfg Config, window IndexSource, log logging.Logger) (*Registry, error) {
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize < 2 {
		return nil, fmt.Errorf("buffer size must be at least 2, got %d", cfg.BufferSize)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Registry{
		cfg:      cfg,
		window:   window,
		log:      log,
		vehicles: make(map[int16]*Vehicle),
		Now:      time.Now,
	}, nil
}

func (r *Registry) AddObserver(o Observer) {
	r.obsMu.Lock()
	r.observers = append(r.observers, o)
	r.obsMu.Unlock()
}

func (r *Registry) notify(fn func(Observer)) {
	r.obsMu.RLock()
	obs := r.observers
	r.obsMu.RUnlock()
	for _, o := range obs {
		fn(o)
	}
}

// Update feeds one beacon to vehicle id, creating it on first sight.
func (r *Registry) Update(id int16, lat, lon float64) (State, error) {
	now := r.Now().Unix()
	v, err := r.vehicle(id, now)
	if err != nil {
		return State{ID: id}, err
	}
	var ix StopIndex
	if r.window != nil {
		ix = r.window.Current()
	}
	st := v.update(lat, lon, now, ix)
	r.notify(func(o Observer) { o.VehicleUpdated(st) })
	return st, nil
}

// vehicle looks up or creates the tracker for id and stamps it as seen at
// now while the registry lock is held, so a concurrent Sweep cannot drop it
// between the lookup and the sample.
func (r *Registry) vehicle(id int16, now int64) (*Vehicle, error) {
	r.mu.RLock()
	v, ok := r.vehicles[id]
	if ok {
		v.seen.Store(now)
	}
	r.mu.RUnlock()
	if ok {
		return v, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.vehicles[id]; ok {
		v.seen.Store(now)
		return v, nil
	}
	if r.cfg.MaxVehicles > 0 && len(r.vehicles) >= r.cfg.MaxVehicles {
		return nil, ErrRegistryFull
	}
	v = newVehicle(id, r.cfg.BufferSize)
	v.seen.Store(now)
	r.vehicles[id] = v
	r.log.Debug("tracking new vehicle", "vehicle_id", id, "vehicles", len(r.vehicles))
	return v, nil
}

func (r *Registry) Get(id int16) (State, bool) {
	r.mu.RLock()
	v, ok := r.vehicles[id]
	r.mu.RUnlock()
	if !ok {
		return State{ID: id}, false
	}
	return v.State(), true
}

// Snapshot returns every vehicle's state ordered by id.
func (r *Registry) Snapshot() []State {
	r.mu.RLock()
	list := make([]*Vehicle, 0, len(r.vehicles))
	for _, v := range r.vehicles {
		list = append(list, v)
	}
	r.mu.RUnlock()

	out := make([]State, 0, len(list))
	for _, v := range list {
		out = append(out, v.State())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vehicles)
}

func (r *Registry) Remove(id int16) bool {
	r.mu.Lock()
	_, ok := r.vehicles[id]
	delete(r.vehicles, id)
	r.mu.Unlock()
	if ok {
		r.notify(func(o Observer) { o.VehicleRemoved(id) })
	}
	return ok
}

// Sweep drops vehicles whose last sample is older than the timeout and
// returns their ids.
func (r *Registry) Sweep() []int16 {
	cutoff := r.Now().Add(-r.cfg.Timeout).Unix()

	r.mu.Lock()
	var removed []int16
	for id, v := range r.vehicles {
		if v.seen.Load() < cutoff {
			delete(r.vehicles, id)
			removed = append(removed, id)
		}
	}
	remaining := len(r.vehicles)
	r.mu.Unlock()

	if len(removed) == 0 {
		return nil
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	r.log.Info("removed stale vehicles", "count", len(removed), "remaining", remaining)
	for _, id := range removed {
		r.notify(func(o Observer) { o.VehicleRemoved(id) })
	}
	return removed
}

// Run sweeps on every tick until ctx ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
