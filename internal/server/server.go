// Package server accepts beacon connections and feeds decoded positions to
// the vehicle registry through a fixed pool of workers.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"transit-tracker/internal/logging"
	"transit-tracker/internal/protocol"
	"transit-tracker/internal/tracker"
)

const (
	DefaultWorkers     = 64
	DefaultReadTimeout = 10 * time.Second
	maxLineBytes       = 4 << 10
)

// Failure reasons reported to Metrics.
const (
	ReasonRead         = "read"
	ReasonMalformed    = "malformed"
	ReasonDecrypt      = "decrypt"
	ReasonSignature    = "signature"
	ReasonRegistryFull = "registry_full"
	ReasonSink         = "sink"
	ReasonWrite        = "write"
)

// Sink receives decoded positions. *tracker.Registry satisfies it.
type Sink interface {
	Update(id int16, lat, lon float64) (tracker.State, error)
}

type Metrics interface {
	BeaconHandled(ok bool, reason string, d time.Duration)
	WorkersBusy(n int)
	PoolSaturated()
}

type nopMetrics struct{}

func (nopMetrics) BeaconHandled(bool, string, time.Duration) {}
func (nopMetrics) WorkersBusy(int)                          {}
func (nopMetrics) PoolSaturated()                           {}

type Config struct {
	Workers     int
	ReadTimeout time.Duration
	Name        string // Server header
	Ack         string
	Nack        string
}

type Server struct {
	cfg     Config
	cipher  *protocol.Cipher
	sink    Sink
	metrics Metrics
	log     logging.Logger

	busy atomic.Int64
}

func New(cfg Config, c *protocol.Cipher, sink Sink, m Metrics, log logging.Logger) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if m == nil {
		m = nopMetrics{}
	}
	return &Server{cfg: cfg, cipher: c, sink: sink, metrics: m, log: log}
}

// Serve accepts on ln until ctx ends. When every worker is busy the accept
// loop waits, leaving further connections in the OS backlog.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("ingestion server listening", "addr", ln.Addr().String(), "workers", s.cfg.Workers)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	jobs := make(chan net.Conn)
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for conn := range jobs {
				s.metrics.WorkersBusy(int(s.busy.Add(1)))
				s.handle(conn)
				s.metrics.WorkersBusy(int(s.busy.Add(-1)))
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.log.Warn("accept failed; retrying", "error", err, "backoff", backoff.String())
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		select {
		case jobs <- conn:
			continue
		default:
		}
		s.metrics.PoolSaturated()
		select {
		case jobs <- conn:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}

// handle runs one exchange. Every exchange gets a response.
func (s *Server) handle(conn net.Conn) {
	start := time.Now()
	defer conn.Close()
	_ = conn.SetDeadline(start.Add(s.cfg.ReadTimeout))

	reason := s.process(conn)
	ok := reason == ""
	body := s.cfg.Ack
	if !ok {
		body = s.cfg.Nack
	}
	if err := protocol.WriteResponse(conn, ok, s.cfg.Name, body); err != nil {
		s.log.Debug("response write failed", "remote", conn.RemoteAddr().String(), "error", err)
		if ok {
			ok, reason = false, ReasonWrite
		}
	}
	s.metrics.BeaconHandled(ok, reason, time.Since(start))
}

// process returns the failure reason, or "" when the beacon was accepted.
func (s *Server) process(conn net.Conn) string {
	r := bufio.NewReader(io.LimitReader(conn, maxLineBytes))
	line, err := r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		s.log.Debug("beacon read failed", "remote", conn.RemoteAddr().String(), "error", err)
		return ReasonRead
	}

	p, err := protocol.DecodeRequest(s.cipher, line)
	switch {
	case errors.Is(err, protocol.ErrMalformedRequest):
		s.log.Debug("malformed beacon", "remote", conn.RemoteAddr().String(), "error", err)
		return ReasonMalformed
	case err != nil:
		s.log.Debug("beacon decrypt failed", "remote", conn.RemoteAddr().String(), "error", err)
		return ReasonDecrypt
	case !p.Valid():
		s.log.Debug("beacon signature mismatch", "remote", conn.RemoteAddr().String())
		return ReasonSignature
	}

	if _, err := s.sink.Update(p.ID, float64(p.Lat), float64(p.Lon)); err != nil {
		if errors.Is(err, tracker.ErrRegistryFull) {
			s.log.Warn("vehicle registry full; beacon dropped", "vehicle_id", p.ID)
			return ReasonRegistryFull
		}
		s.log.Error("vehicle update failed", "vehicle_id", p.ID, "error", err)
		return ReasonSink
	}
	return ""
}
