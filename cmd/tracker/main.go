package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"transit-tracker/internal/api"
	"transit-tracker/internal/config"
	"transit-tracker/internal/logging"
	"transit-tracker/internal/metrics"
	"transit-tracker/internal/protocol"
	"transit-tracker/internal/publisher"
	"transit-tracker/internal/server"
	"transit-tracker/internal/sim"
	"transit-tracker/internal/stopwindow"
	"transit-tracker/internal/tracker"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(1)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("tracker stopped", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(parent context.Context, cfg *config.Config, log logging.Logger) error {
	ctx, stop := context.WithCancel(parent)
	defer stop()

	mcol := metrics.NewCollector(cfg.CoordBufferSize, cfg.StopWindowMargin, cfg.VehicleTimeout)
	var servers []*http.Server
	if cfg.MetricsAddr != "" {
		servers = append(servers, mcol.Serve(cfg.MetricsAddr, log))
	}

	window := stopwindow.NewWindow(mcol)
	reg, err := tracker.NewRegistry(tracker.Config{
		BufferSize:  cfg.CoordBufferSize,
		Timeout:     cfg.VehicleTimeout,
		MaxVehicles: cfg.MaxVehicles,
	}, window, log.With("component", "registry"))
	if err != nil {
		return err
	}
	reg.AddObserver(mcol)
	mcol.TrackVehicles(reg.Len)

	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, mcol, log.With("component", "nats"))
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer pub.Close()
		reg.AddObserver(pub)
	}

	status := api.New(reg, window, log.With("component", "api"))
	if cfg.APIAddr != "" {
		servers = append(servers, status.Serve(cfg.APIAddr))
	}

	cipher, err := protocol.NewCipher(cfg.ServerPassword)
	if err != nil {
		return err
	}

	var drones *sim.Manager
	if cfg.DronesActive {
		client := protocol.NewClient(net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.ServerPort)), cipher)
		drones = sim.NewManager(sim.Config{
			SpeedMph: cfg.DroneSpeedMph,
			Interval: cfg.DroneUpdateInterval,
			Location: cfg.Location,
		}, client, mcol, log.With("component", "drones"))
		log.Info("drones active", "speed_mph", cfg.DroneSpeedMph, "interval", cfg.DroneUpdateInterval.String())
	}

	// Bind before loading feeds so drone beacons queue in the backlog.
	ln, err := net.Listen("tcp", cfg.ServerAddr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ServerAddr(), err)
	}

	feeds := newFeedSet(cfg, window, status, mcol, drones, log)
	if err := feeds.LoadAll(ctx); err != nil {
		ln.Close()
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		reg.Run(ctx, cfg.VehicleSweepInterval)
	}()
	go func() {
		defer wg.Done()
		feeds.Run(ctx)
	}()

	srv := server.New(server.Config{
		Workers:     cfg.ServerWorkers,
		ReadTimeout: cfg.ServerReadTimeout,
		Name:        cfg.ServerName,
		Ack:         cfg.PacketOK,
		Nack:        cfg.PacketBad,
	}, cipher, reg, mcol, log.With("component", "server"))
	serveErr := srv.Serve(ctx, ln)
	stop()

	// Allow graceful shutdown
	if drones != nil {
		drones.Stop()
	}
	wg.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}
	if parent.Err() != nil {
		return nil
	}
	return serveErr
}
