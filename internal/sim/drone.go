package sim

import (
	"context"
	"time"

	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/logging"
	"transit-tracker/internal/protocol"
	"transit-tracker/internal/schedule"
)

// Sender delivers one beacon and reports whether it was acknowledged.
type Sender interface {
	Send(ctx context.Context, p protocol.Packet) (bool, error)
}

// Drone drives a route path at a steady speed and reports its position
// through the ingestion protocol like a real vehicle.
type Drone struct {
	ID       int16
	StartMin int

	route    route
	startIdx int
	speedMps float64
	interval time.Duration
	sender   Sender
	now      func() time.Time
	log      logging.Logger
}

// newDrone positions a drone at the first stop of p arriving at or after
// now. It reports false when no such stop exists or nothing remains to drive.
func newDrone(id int16, p *schedule.RoutePath, speedMph float64, interval time.Duration, sender Sender, now func() time.Time, log logging.Logger) (*Drone, bool) {
	r := buildRoute(p)
	idx, ok := r.startAt(gtfs.MinutesSinceMidnight(now()))
	if !ok || r.cum[idx] >= r.total() {
		return nil, false
	}
	return &Drone{
		ID:       id,
		StartMin: r.points[idx].Stop.ArrivalMin,
		route:    r,
		startIdx: idx,
		speedMps: gtfs.MphToMps(speedMph),
		interval: interval,
		sender:   sender,
		now:      now,
		log:      log.With("drone_id", id),
	}, true
}

// Run waits for the start stop's arrival time, then drives to the end of
// the path, holding at each stop until its departure. It returns nil at the
// end of the path and ctx.Err() when cancelled.
func (d *Drone) Run(ctx context.Context) error {
	if err := d.waitForStart(ctx); err != nil {
		return err
	}

	dist := d.route.cum[d.startIdx]
	next := d.startIdx + 1
	step := d.speedMps * d.interval.Seconds()
	total := d.route.total()
	hold := d.route.points[d.startIdx].Stop

	d.beacon(ctx, dist)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if hold != nil {
			if d.minuteNow() < hold.DepartureMin {
				d.beacon(ctx, dist)
				continue
			}
			hold = nil
		}

		dist += step
		for next < len(d.route.points) && d.route.cum[next] <= dist {
			wp := d.route.points[next]
			next++
			if wp.Stop != nil && wp.Stop.DepartureMin > d.minuteNow() {
				dist = d.route.cum[next-1]
				hold = wp.Stop
				break
			}
		}
		if dist > total {
			dist = total
		}
		d.beacon(ctx, dist)
		if hold == nil && dist >= total {
			d.log.Debug("drone finished")
			return nil
		}
	}
}

func (d *Drone) waitForStart(ctx context.Context) error {
	now := d.now()
	start := gtfs.Midnight(now).Add(time.Duration(d.StartMin) * time.Minute)
	wait := start.Sub(now)
	if wait <= 0 {
		return nil
	}
	d.log.Debug("drone waiting", "start", gtfs.MinutesToTime(d.StartMin))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *Drone) minuteNow() int {
	return gtfs.MinutesSinceMidnight(d.now())
}

func (d *Drone) beacon(ctx context.Context, dist float64) {
	lat, lon := d.route.at(dist)
	p := protocol.Packet{ID: d.ID, Lat: float32(lat), Lon: float32(lon)}
	ok, err := d.sender.Send(ctx, p)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn("beacon failed", "error", err)
		}
		return
	}
	if !ok {
		d.log.Debug("beacon rejected", "packet", p.String())
	}
}
