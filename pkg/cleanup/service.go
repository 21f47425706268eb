// Package cleanup provides data retention for hibernated session state.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// SessionLister finds sessions whose persisted state is past retention.
type SessionLister interface {
	CompletedSessionsEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// StateDeleter removes a session's state blob.
type StateDeleter interface {
	Delete(sessionID string) error
}

// Config tunes the retention sweep.
type Config struct {
	// StateRetention is how long a completed session's hibernated state
	// blob is kept before deletion.
	StateRetention time.Duration

	// SweepInterval is the pause between sweeps.
	SweepInterval time.Duration

	// BatchSize bounds one sweep so a backlog cannot stall the loop.
	BatchSize int
}

// DefaultConfig returns production retention settings.
func DefaultConfig() Config {
	return Config{
		StateRetention: 24 * time.Hour,
		SweepInterval:  time.Hour,
		BatchSize:      500,
	}
}

// Service periodically deletes state blobs of long-completed sessions.
// Sweeps are idempotent and safe to run from multiple hosts: only
// unowned completed sessions are considered, and deleting an already
// deleted blob is a no-op.
type Service struct {
	cfg      Config
	sessions SessionLister
	states   StateDeleter
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweeper.
func NewService(cfg Config, sessions SessionLister, states StateDeleter) *Service {
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		states:   states,
		now:      time.Now,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention sweeper started",
		"state_retention", s.cfg.StateRetention,
		"interval", s.cfg.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes state blobs for one batch of expired sessions. Returns
// the number of blobs removed.
func (s *Service) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.StateRetention)
	ids, err := s.sessions.CompletedSessionsEndedBefore(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		slog.Error("Retention: failed to list expired sessions", "error", err)
		return 0
	}

	removed := 0
	for _, id := range ids {
		if err := s.states.Delete(id); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return removed
			}
			slog.Error("Retention: failed to delete session state", "session_id", id, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Retention: deleted expired session state", "count", removed)
	}
	return removed
}
