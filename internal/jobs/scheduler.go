package jobs

import (
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron    *cron.Cron
	sweeper *RefreshSweeper
	// schedule is a standard 5-field cron expression.
	schedule string
}

// NewScheduler creates a new job scheduler
func NewScheduler(sweeper *RefreshSweeper, schedule string) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		sweeper:  sweeper,
		schedule: schedule,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	// Refresh tokens that are about to expire
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.sweeper.Sweep()
	}); err != nil {
		return err
	}

	s.cron.Start()
	log.Println("Job scheduler started")
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Job scheduler stopped")
}
