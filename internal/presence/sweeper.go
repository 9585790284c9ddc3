package presence

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically purges registry entries whose connection went
// stale without a clean disconnect. It is a safety net; the disconnect
// handler is the primary removal path. Eviction keys on time since
// connect, not last activity.
type Sweeper struct {
	registry   *Registry
	interval   time.Duration
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewSweeper(logger *slog.Logger, registry *Registry, interval, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		registry:   registry,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.With(slog.String("component", "presence_sweeper")),
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("staleness sweeper running",
		slog.Duration("interval", s.interval),
		slog.Duration("staleAfter", s.staleAfter),
	)
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-ctx.Done():
			s.logger.Info("staleness sweeper stopped")
			return
		}
	}
}

func (s *Sweeper) sweep() {
	evicted := s.registry.EvictStale(s.staleAfter)
	for _, entry := range evicted {
		s.logger.Info("evicted stale connection entry",
			slog.String("userID", entry.UserID),
			slog.Time("connectedAt", entry.ConnectedAt),
		)
	}
}
