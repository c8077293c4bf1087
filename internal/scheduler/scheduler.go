// Package scheduler runs periodic maintenance jobs such as cache purges.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler manages cron jobs for background maintenance
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// New creates an idle scheduler. Specs use the standard five-field cron
// format or descriptors such as "@every 10m".
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// SchedulePurge runs purge on spec and logs how many entries it removed.
func (s *Scheduler) SchedulePurge(spec string, purge func() int) error {
	_, err := s.cron.AddFunc(spec, func() {
		if n := purge(); n > 0 {
			s.logger.Info().Int("removed", n).Msg("Purged expired cache entries")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", spec, err)
	}
	s.logger.Debug().Str("schedule", spec).Msg("Cache purge scheduled")
	return nil
}

// Jobs returns the number of scheduled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
