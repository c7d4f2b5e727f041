package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"transit-tracker/internal/api"
	"transit-tracker/internal/config"
	"transit-tracker/internal/db"
	"transit-tracker/internal/gtfs"
	"transit-tracker/internal/logging"
	"transit-tracker/internal/metrics"
	"transit-tracker/internal/schedule"
	"transit-tracker/internal/sim"
	"transit-tracker/internal/stopwindow"
)

// feed is one configured dataset, its compiled schedule for the current
// service day and the refresher keeping its share of the stop window.
type feed struct {
	id        int
	cfg       config.Feed
	source    string
	data      *gtfs.Feed
	schedule  *schedule.Schedule
	refresher *stopwindow.Refresher
}

type feedSet struct {
	cfg     *config.Config
	window  *stopwindow.Window
	status  *api.API
	metrics *metrics.Collector
	drones  *sim.Manager
	log     logging.Logger

	feeds []*feed
}

func newFeedSet(cfg *config.Config, w *stopwindow.Window, status *api.API, m *metrics.Collector, drones *sim.Manager, log logging.Logger) *feedSet {
	return &feedSet{cfg: cfg, window: w, status: status, metrics: m, drones: drones, log: log.With("component", "feeds")}
}

func (fs *feedSet) now() time.Time { return time.Now().In(fs.cfg.Location) }

// LoadAll loads and compiles every configured feed. A feed that fails is
// logged and skipped. When none load the tracker still serves, with an empty
// stop window; only cancellation is returned as an error.
func (fs *feedSet) LoadAll(ctx context.Context) error {
	for i, fc := range fs.cfg.Feeds {
		id := i + 1
		log := fs.log.With("feed", fc.Name, "feed_id", id)
		start := time.Now()
		data, source, err := loadFeed(ctx, fs.cfg, fc, log)
		if err == nil {
			var s *schedule.Schedule
			s, err = fs.build(id, fc, data)
			if err == nil {
				f := &feed{id: id, cfg: fc, source: source, data: data, schedule: s}
				f.refresher = stopwindow.NewRefresher(id, s, fs.window, fs.cfg.StopWindowMargin, fs.cfg.StopWindowRefresh, fs.log)
				f.refresher.Now = fs.now
				f.refresher.Refresh()
				fs.feeds = append(fs.feeds, f)
				fs.publish(ctx, f)
				log.Info("feed loaded", "source", source, "paths", len(s.Paths()), "took", time.Since(start).String())
				continue
			}
		}
		fs.metrics.FeedFailed()
		log.Error("feed failed", "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if len(fs.feeds) == 0 {
		fs.log.Warn("no feed could be loaded, serving with an empty stop window", "configured", len(fs.cfg.Feeds))
	}
	return nil
}

func (fs *feedSet) build(id int, fc config.Feed, data *gtfs.Feed) (*schedule.Schedule, error) {
	return schedule.Build(id, fc.Name, data, fs.now(), schedule.Options{
		ClosenessMeters:   fs.cfg.ClosenessMeters,
		JoinTimeThreshold: fs.cfg.JoinTimeThreshold,
		TimeGap:           fc.TimeGap,
	}, fs.log.With("feed", fc.Name))
}

// publish makes a freshly built schedule visible: window, API, metrics and
// drones.
func (fs *feedSet) publish(ctx context.Context, f *feed) {
	fs.status.SetFeed(api.NewFeedInfo(f.schedule, f.source, time.Now()))
	fs.metrics.FeedLoaded(f.cfg.Name, len(f.schedule.Paths()))
	if fs.drones != nil {
		fs.drones.Launch(ctx, f.schedule)
	}
}

// Run keeps every feed's stop window fresh and recompiles the schedules when
// the local service day changes.
func (fs *feedSet) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, f := range fs.feeds {
		wg.Add(1)
		go func(f *feed) {
			defer wg.Done()
			f.refresher.Run(ctx)
		}(f)
	}
	fs.rollOver(ctx)
	wg.Wait()
}

func (fs *feedSet) rollOver(ctx context.Context) {
	for {
		now := fs.now()
		next := gtfs.Midnight(now).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		for _, f := range fs.feeds {
			s, err := fs.build(f.id, f.cfg, f.data)
			if err != nil {
				fs.metrics.FeedFailed()
				fs.log.Error("service day rebuild failed", "feed", f.cfg.Name, "error", err)
				continue
			}
			f.schedule = s
			f.refresher.SetSource(s)
			f.refresher.Refresh()
			fs.publish(ctx, f)
			fs.log.Info("service day rebuilt", "feed", f.cfg.Name, "day", s.Day.Format("2006-01-02"), "paths", len(s.Paths()))
		}
	}
}

// loadFeed reads a feed from a directory, a gs:// prefix or Postgres. It
// returns the feed and a printable source.
func loadFeed(ctx context.Context, cfg *config.Config, fc config.Feed, log logging.Logger) (*gtfs.Feed, string, error) {
	switch {
	case fc.City != "":
		base := fc.Source
		if base == "" {
			base = cfg.DatabaseURL
		}
		if base == "" {
			return nil, "", fmt.Errorf("feed %q names city %q but no database is configured", fc.Name, fc.City)
		}
		dsn, err := db.CityDSN(ctx, base, fc.City)
		if err != nil {
			return nil, "", err
		}
		data, err := db.LoadFeedFromDSN(ctx, dsn)
		return data, db.Redact(dsn), err
	case db.IsDSN(fc.Source):
		data, err := db.LoadFeedFromDSN(ctx, fc.Source)
		return data, db.Redact(fc.Source), err
	case strings.HasPrefix(fc.Source, "gs://"):
		src, err := gtfs.NewGCSSource(ctx, fc.Source)
		if err != nil {
			return nil, fc.Source, err
		}
		defer src.Close()
		data, err := gtfs.LoadFeed(ctx, src, log)
		return data, src.String(), err
	default:
		src := gtfs.DirSource{Dir: fc.Source}
		data, err := gtfs.LoadFeed(ctx, src, log)
		return data, src.String(), err
	}
}
