package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically expires overdue sessions and deletes terminal ones
// past the retention window.
type Sweeper struct {
	manager   *Manager
	interval  time.Duration
	retention time.Duration
}

func NewSweeper(manager *Manager, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		manager:   manager,
		interval:  interval,
		retention: retention,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Msg("session sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.manager.ExpireOldSessions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to expire sessions")
	} else if expired > 0 {
		log.Info().Int("expired", expired).Msg("expired overdue sessions")
	}

	if _, err := s.manager.CleanupOldSessions(ctx, s.retention); err != nil {
		log.Error().Err(err).Msg("failed to clean up old sessions")
	}
}
