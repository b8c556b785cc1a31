package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/history"
	"github.com/nerrad567/gray-logic-hub/internal/imagestore"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/registry"
)

// acceptBackoff constants bound the retry delay when Accept fails with a
// transient error (out of file descriptors, for example).
const (
	acceptBackoffInitial = 5 * time.Millisecond
	acceptBackoffMax     = time.Second
)

// TemperatureRecorder receives every accepted ET reading for fan-out to
// the configured sinks, plus each device's online transitions.
// Satisfied by *telemetry.Recorder.
type TemperatureRecorder interface {
	Record(ctx context.Context, deviceID string, value float64) error
	Presence(ctx context.Context, deviceID string, online bool) error
}

// ReadingSource serves stored temperature history for the RH command.
// Satisfied by *history.Repository.
type ReadingSource interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]history.Reading, error)
}

// Server accepts device connections and runs one protocol handler per
// connection against the shared registry.
type Server struct {
	addr   string
	reg    *registry.Registry
	images *imagestore.Store
	attest AttestationRef
	logger *logging.Logger

	// Optional collaborators, attached before Start.
	telemetry TemperatureRecorder
	readings  ReadingSource

	ln       net.Listener
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New creates a server bound to the given registry and image store.
// Start must be called to begin accepting connections.
func New(addr string, reg *registry.Registry, images *imagestore.Store, attest AttestationRef, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	return &Server{
		addr:     addr,
		reg:      reg,
		images:   images,
		attest:   attest,
		logger:   logger,
		shutdown: make(chan struct{}),
		conns:    make(map[net.Conn]struct{}),
	}
}

// SetTelemetry attaches the telemetry fan-out. Pass nil to detach.
func (s *Server) SetTelemetry(rec TemperatureRecorder) {
	s.telemetry = rec
}

// SetReadingSource attaches the history backend for the RH command.
// RH answers generic-failure when no source is attached.
func (s *Server) SetReadingSource(src ReadingSource) {
	s.readings = src
}

// Start binds the listening socket and launches the accept loop.
// A bind failure is returned to the caller; it is fatal at startup.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.addr, err)
	}
	s.ln = ln

	s.logger.Info("hub listening", "addr", ln.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address. Valid only after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// acceptLoop accepts connections until the listener closes, backing off
// on transient errors so a resource spike cannot spin the loop.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	backoff := acceptBackoffInitial
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			time.Sleep(backoff)
			if backoff *= 2; backoff > acceptBackoffMax {
				backoff = acceptBackoffMax
			}
			continue
		}
		backoff = acceptBackoffInitial

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Stop shuts the server down: the listener closes first so the drain
// cannot be extended by new connections, then every live connection is
// closed, unblocking handlers at their next read. That ordering trades
// strictness for a bounded drain: a handler mid-response loses its
// socket rather than finishing at the next safe point, and the client
// sees a dropped connection, the same outcome as a crash between
// command and reply. State already applied to the registry survives via
// the final snapshot taken after Stop returns.
//
// Stop waits up to wait for handlers to finish; it returns false if
// some were still running at the deadline.
func (s *Server) Stop(wait time.Duration) bool {
	close(s.shutdown)
	if s.ln != nil {
		s.ln.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(wait):
		s.logger.Warn("handlers still running at shutdown deadline")
		return false
	}
}
