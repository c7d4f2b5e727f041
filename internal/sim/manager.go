package sim

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/logging"
	"transit-tracker/internal/schedule"
)

type Config struct {
	SpeedMph float64
	Interval time.Duration
	Location *time.Location
}

type DroneMetrics interface {
	DronesActiveSet(n int)
}

// Manager launches one drone per schedulable route path and tracks the
// running ones.
type Manager struct {
	cfg     Config
	sender  Sender
	metrics DroneMetrics
	log     logging.Logger

	// Now is the wall clock; tests replace it.
	Now func() time.Time

	mu      sync.Mutex
	running map[int16]context.CancelFunc // drone id -> cancel
	nextID  int
	wg      sync.WaitGroup
}

func NewManager(cfg Config, sender Sender, m DroneMetrics, log logging.Logger) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Manager{
		cfg:     cfg,
		sender:  sender,
		metrics: m,
		log:     log,
		Now:     time.Now,
		running: make(map[int16]context.CancelFunc),
		nextID:  1,
	}
}

// Launch starts a drone for every path of s whose service runs today and
// which ends after now. It returns the number of drones started.
func (m *Manager) Launch(ctx context.Context, s *schedule.Schedule) int {
	now := m.clock()
	nowMin := gtfs.MinutesSinceMidnight(now())
	started := 0
	for _, p := range s.Paths() {
		if !s.ValidService(p.ServiceID) || p.EndMin <= nowMin {
			continue
		}
		m.mu.Lock()
		if m.nextID > math.MaxInt16 {
			m.mu.Unlock()
			m.log.Warn("drone id space exhausted", "feed", s.Name)
			break
		}
		id := int16(m.nextID)
		m.mu.Unlock()

		d, ok := newDrone(id, p, m.cfg.SpeedMph, m.cfg.Interval, m.sender, now, m.log)
		if !ok {
			continue
		}
		m.mu.Lock()
		m.nextID++
		m.mu.Unlock()
		m.start(ctx, d, p)
		started++
	}
	m.log.Info("drones launched", "feed", s.Name, "count", started)
	return started
}

func (m *Manager) clock() func() time.Time {
	loc := m.cfg.Location
	now := m.Now
	return func() time.Time { return now().In(loc) }
}

func (m *Manager) start(parent context.Context, d *Drone, p *schedule.RoutePath) {
	ctx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.running[d.ID] = cancel
	m.wg.Add(1)
	m.reportLocked()
	m.mu.Unlock()

	m.log.Debug("starting drone", "drone_id", d.ID, "route", p.RouteID(), "trips", p.TripIDs(), "start", gtfs.MinutesToTime(d.StartMin))
	go func() {
		defer m.wg.Done()
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.log.Warn("drone stopped", "drone_id", d.ID, "error", err)
		}
		cancel()
		m.mu.Lock()
		delete(m.running, d.ID)
		m.reportLocked()
		m.mu.Unlock()
	}()
}

func (m *Manager) reportLocked() {
	if m.metrics != nil {
		m.metrics.DronesActiveSet(len(m.running))
	}
}

// Active returns the number of running drones, including those waiting for
// their start time.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

// Stop cancels every drone and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
