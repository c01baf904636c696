// Package scheduler runs IntakeDesk's periodic maintenance, such as the session expiry sweep,
// on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the expiry sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// JobID identifies a scheduled job.
type JobID = cron.EntryID

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler. Expressions use the standard five fields
// (min, hour, dom, month, dow) or descriptors such as "@every 30s" and "@hourly".
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) (JobID, error) {
	id, err := s.cron.AddFunc(expr, func() {
		slog.Debug("Scheduler: running job", "name", name)
		task()
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s with %q: %w", name, expr, err)
	}
	slog.Info("Scheduler.AddJob: scheduled", "name", name, "expr", expr, "id", id)
	return id, nil
}

// RemoveJob unschedules a job. Unknown ids are ignored.
func (s *Scheduler) RemoveJob(id JobID) {
	s.cron.Remove(id)
}

// Jobs reports how many jobs are scheduled.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
