package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// AttestationPurger deletes spent attestations older than a cutoff
type AttestationPurger interface {
	PurgeAttestations(ctx context.Context, before time.Time) (int64, error)
}

// Scheduler runs the backend's periodic maintenance
type Scheduler struct {
	sched  gocron.Scheduler
	logger *zerolog.Logger
}

func NewScheduler(logger *zerolog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{sched: sched, logger: logger}, nil
}

// SchedulePurge removes spent attestations every interval. Anything older
// than retention can no longer pass the nonce freshness check.
func (s *Scheduler) SchedulePurge(purger AttestationPurger, interval, retention time.Duration) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			PurgeOnce(context.Background(), purger, time.Now().Add(-retention), s.logger)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule attestation purge: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

// PurgeOnce runs a single purge and logs the outcome.
func PurgeOnce(ctx context.Context, purger AttestationPurger, before time.Time, logger *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	n, err := purger.PurgeAttestations(ctx, before)
	if err != nil {
		logger.Error().Err(err).Msg("Attestation purge failed")
		return
	}
	if n > 0 {
		logger.Info().
			Int64("purged", n).
			Time("before", before).
			Msg("Purged spent attestations")
	}
}
