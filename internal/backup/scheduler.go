package backup

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/careslot/careslot/internal/logging"
)

// Sweeper auto-completes elapsed appointments.
type Sweeper interface {
	CompletePast(ctx context.Context) (int64, error)
}

const jobTimeout = 10 * time.Minute

// Scheduler drives the periodic maintenance jobs: database backups and the
// appointment completion sweep.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger
}

// NewScheduler wires the jobs onto their cron schedules. Empty schedules
// disable the corresponding job.
func NewScheduler(svc *Service, sweeper Sweeper, backupSchedule, sweepSchedule string, log *logging.Logger) (*Scheduler, error) {
	c := cron.New()

	if backupSchedule != "" && svc != nil {
		_, err := c.AddFunc(backupSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if _, err := svc.Run(ctx, ""); err != nil {
				log.WithError(err).Error("scheduled backup failed")
			}
		})
		if err != nil {
			return nil, err
		}
	}

	if sweepSchedule != "" && sweeper != nil {
		_, err := c.AddFunc(sweepSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if _, err := sweeper.CompletePast(ctx); err != nil {
				log.WithError(err).Error("appointment sweep failed")
			}
		})
		if err != nil {
			return nil, err
		}
	}

	return &Scheduler{cron: c, log: log}, nil
}

// Start launches the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("maintenance scheduler started")
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("maintenance scheduler stopped")
}
