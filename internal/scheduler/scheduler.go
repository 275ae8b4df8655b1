// Package scheduler owns the single cron instance that drives periodic work.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is a unit of scheduled work.
type JobFunc func(ctx context.Context) error

// JobRecorder receives job outcomes.
type JobRecorder interface {
	RecordJob(job string, err error)
}

// Job describes a registered job.
type Job struct {
	Name string `json:"name"`
	Spec string `json:"spec"`
	ID   int    `json:"id"`
}

// Scheduler wraps a cron runner. Overlapping firings of the same job are
// skipped rather than queued.
type Scheduler struct {
	cron     *cron.Cron
	loc      *time.Location
	recorder JobRecorder
	logger   *slog.Logger
	timeout  time.Duration

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []Job
}

// Options configures a Scheduler.
type Options struct {
	// Location interprets cron specs. Nil means UTC.
	Location *time.Location
	// JobTimeout bounds each job run when positive.
	JobTimeout time.Duration
	Recorder   JobRecorder
	Logger     *slog.Logger
}

// New creates a stopped Scheduler.
func New(opts Options) *Scheduler {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		loc:      loc,
		recorder: opts.Recorder,
		logger:   logger,
		timeout:  opts.JobTimeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Add registers fn under a five-field cron spec or an @ descriptor.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("parse schedule %q for %s: %w", spec, name, err)
	}

	var running sync.Mutex
	id, err := s.cron.AddFunc(spec, func() {
		if !running.TryLock() {
			s.logger.Warn("scheduled job still running, skipping", "job", name)
			return
		}
		defer running.Unlock()
		s.run(name, fn)
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, Job{Name: name, Spec: spec, ID: int(id)})
	s.mu.Unlock()
	s.logger.Info("job scheduled", "job", name, "spec", spec, "location", s.loc.String())
	return nil
}

// RunNow executes a registered job immediately in the caller's goroutine.
func (s *Scheduler) RunNow(name string, fn JobFunc) error {
	return s.run(name, fn)
}

func (s *Scheduler) run(name string, fn JobFunc) (err error) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
		if s.recorder != nil {
			s.recorder.RecordJob(name, err)
		}
		if err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Debug("scheduled job finished", "job", name, "elapsed", time.Since(start))
	}()
	return fn(ctx)
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}

// Next returns the next activation time of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == name {
			return s.cron.Entry(cron.EntryID(j.ID)).Next, true
		}
	}
	return time.Time{}, false
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}
