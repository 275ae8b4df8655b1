package scheduler

import (
	"context"
	"fmt"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/checker"
)

// Job names.
const (
	JobAlertCheck = "alert-check"
	JobGuardSweep = "guard-sweep"
	JobPrune      = "history-prune"
)

// Specs holds the cron specs of the built-in jobs. An empty spec disables the job.
type Specs struct {
	AlertCheck string
	Sweep      string
	Prune      string
}

// Workload is the alert work the scheduler drives.
type Workload interface {
	RunAll(ctx context.Context) ([]checker.AccountResult, error)
	Prune(ctx context.Context) (int, error)
}

// Sweeper removes old execution records.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Register adds the alert check, guard sweep and history prune jobs.
func Register(s *Scheduler, specs Specs, w Workload, sw Sweeper) error {
	if specs.AlertCheck != "" {
		if err := s.Add(JobAlertCheck, specs.AlertCheck, func(ctx context.Context) error {
			results, err := w.RunAll(ctx)
			if err != nil {
				return err
			}
			if sum := checker.Summarize(results); sum.Failed > 0 {
				return fmt.Errorf("%d of %d account runs failed", sum.Failed, len(results))
			}
			return nil
		}); err != nil {
			return err
		}
	}
	if specs.Sweep != "" && sw != nil {
		if err := s.Add(JobGuardSweep, specs.Sweep, func(ctx context.Context) error {
			_, err := sw.Sweep(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	if specs.Prune != "" {
		if err := s.Add(JobPrune, specs.Prune, func(ctx context.Context) error {
			_, err := w.Prune(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}
