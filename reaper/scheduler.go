package reaper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const DefaultSchedule = "@every 15m"

// Scheduler runs Sweep on a cron schedule.
type Scheduler struct {
	cron      *cron.Cron
	reaper    *Reaper
	schedule  string
	threshold time.Duration
	timeout   time.Duration
	log       zerolog.Logger
}

// NewScheduler accepts standard five-field cron specs and descriptors such as "@every 15m".
func NewScheduler(r *Reaper, schedule string, threshold time.Duration, log zerolog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		reaper:    r,
		schedule:  schedule,
		threshold: threshold,
		timeout:   5 * time.Minute,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.schedule).Dur("threshold", s.threshold).Msg("session reaper scheduled")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("session reaper still running at shutdown")
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	removed, err := s.reaper.Sweep(ctx, s.threshold)
	if err != nil {
		s.log.Error().Err(err).Int("removed", removed).Msg("stale session sweep failed")
		return
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("stale sessions reaped")
	}
}
