package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/store"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
)

// StaleMessage is the error recorded on swept jobs.
const StaleMessage = "stale: exceeded max active age"

var errNotStale = errors.New("job no longer stale")

// Sweeper fails jobs stuck in an active state past a maximum age. It
// recovers from crashed workers; it does not bound live requests.
type Sweeper struct {
	manager  *Manager
	maxAge   time.Duration
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSweeper creates a sweeper. It does not start until Start is called.
func NewSweeper(m *Manager, maxAge, interval time.Duration) (*Sweeper, error) {
	if m == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("max active age must be positive")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{manager: m, maxAge: maxAge, interval: interval, logger: m.logger}, nil
}

// SweepOnce fails every stale active job and returns how many it failed.
// Jobs that moved on between listing and updating are left alone.
func (s *Sweeper) SweepOnce(ctx context.Context) (swept int, err error) {
	ctx, span := s.manager.tracer.Start(ctx, "jobs.sweep")
	defer func() { telemetry.End(span, err) }()

	cutoff := s.manager.now().Add(-s.maxAge)
	active := stateStrings(Active)
	stale, err := s.manager.store.ListStale(ctx, active, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	for _, j := range stale {
		_, err := s.manager.transition(ctx, j.ID, StateFailed, StaleMessage, func(cur *store.JobRecord) error {
			if !cur.UpdatedAt.Before(cutoff) || !contains(active, cur.State) {
				return errNotStale
			}
			return nil
		})
		if errors.Is(err, errNotStale) {
			continue
		}
		if err != nil {
			s.logger.Error("sweep job failed", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		swept++
		if s.manager.metrics != nil {
			s.manager.metrics.JobsSwept.Inc()
		}
		s.logger.Warn("swept stale job",
			zap.String("job_id", j.ID),
			zap.String("state", j.State),
			zap.Time("updated_at", j.UpdatedAt))
	}
	span.SetAttributes(attribute.Int("jobs.swept", swept))
	return swept, nil
}

// Start runs SweepOnce every interval in the background.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.logger.Info("job sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("max_active_age", s.maxAge))
	go s.run(s.stopCh, s.doneCh)
	return nil
}

// Stop signals the loop to exit and waits for it. Idempotent.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()
	<-done
}

func (s *Sweeper) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeSweep()
		case <-stop:
			return
		}
	}
}

// safeSweep keeps one panicking sweep from stopping the loop.
func (s *Sweeper) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked, continuing", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
