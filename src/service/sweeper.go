package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

type SweepService struct {
	tokens   *TokenService
	interval time.Duration
}

type SweepConfig struct {
	SweepInterval time.Duration
}

func NewSweepService(tokens *TokenService, config SweepConfig) *SweepService {
	return &SweepService{
		tokens:   tokens,
		interval: config.SweepInterval,
	}
}

// logger wraps the execution context with component info
func (s *SweepService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "sweep-service").Logger()
	return &l
}

// Start deletes stale tokens every interval until ctx is cancelled.
func (s *SweepService) Start(ctx context.Context) error {
	s.logger(ctx).Info().
		Dur("sweep_interval", s.interval).
		Msg("starting sweep service")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger(ctx).Info().Msg("sweep service stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SweepService) sweep(ctx context.Context) {
	start := time.Now()

	deleted, err := s.tokens.Sweep(ctx)
	if err != nil {
		s.logger(ctx).Error().Err(err).Msg("sweep cycle failed")
		return
	}

	tokensSweptTotal.Add(float64(deleted))
	s.logger(ctx).Debug().
		Int64("deleted", deleted).
		Dur("duration", time.Since(start)).
		Msg("sweep cycle completed")
}
