package snapshot

import (
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/registry"
)

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// StateSource provides a consistent copy of the registry to snapshot.
type StateSource interface {
	Snapshot() registry.State
}

// Saver persists a snapshot state. Implemented by *Store.
type Saver interface {
	Save(registry.State) error
}

// Scheduler drives periodic registry snapshots from a single background
// goroutine, independent of connection activity. A failed save is logged and
// retried on the next tick; it never stops the scheduler.
type Scheduler struct {
	source       StateSource
	saver        Saver
	interval     time.Duration
	initialDelay time.Duration
	logger       Logger

	done    chan struct{}
	stopped chan struct{}
}

// NewScheduler creates a scheduler ticking every interval, with the first
// snapshot after initialDelay.
func NewScheduler(source StateSource, saver Saver, interval, initialDelay time.Duration) *Scheduler {
	return &Scheduler{
		source:       source,
		saver:        saver,
		interval:     interval,
		initialDelay: initialDelay,
		logger:       noopLogger{},
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the snapshot loop.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop signals the loop to exit and waits for any in-flight save to finish,
// up to wait. It returns false if the loop did not finish in time.
func (s *Scheduler) Stop(wait time.Duration) bool {
	close(s.done)
	select {
	case <-s.stopped:
		return true
	case <-time.After(wait):
		return false
	}
}

func (s *Scheduler) loop() {
	defer close(s.stopped)

	delay := time.NewTimer(s.initialDelay)
	defer delay.Stop()

	select {
	case <-delay.C:
	case <-s.done:
		return
	}
	s.save()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.save()
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) save() {
	start := time.Now()
	if err := s.saver.Save(s.source.Snapshot()); err != nil {
		s.logger.Error("snapshot failed", "error", err)
		return
	}
	s.logger.Info("snapshot written", "elapsed", time.Since(start))
}
