/**
 * @description
 * Cron wiring for the scheduled backfill sync. The periodic run never updates
 * existing purchases; it only picks up sessions the live paths missed.
 */
package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the backfill sync on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
}

// NewScheduler creates a scheduler that runs the sync per the cron spec.
func NewScheduler(service *Service) *Scheduler {
	logger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(logger))),
		service: service,
	}
}

// Start registers the sync job and starts the scheduler.
func (s *Scheduler) Start(schedule string, windowDays int) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		opts := SyncOptions{}
		if windowDays > 0 {
			opts.CreatedSince = time.Now().AddDate(0, 0, -windowDays).Unix()
		}
		if _, err := s.service.RunSync(ctx, opts); err != nil {
			log.Printf("level=error component=scheduler msg=\"scheduled sync failed\" err=%v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("level=info component=scheduler msg=\"scheduled sync registered\" schedule=%q window_days=%d", schedule, windowDays)
	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
