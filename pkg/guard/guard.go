// Package guard makes a task run at most once per (scope, task, hour) bucket,
// even when the scheduler, a restart and manual triggers overlap.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

const (
	// DefaultStaleAfter is how long a running marker is honoured before it is
	// treated as abandoned by a crashed process. It must stay below the
	// one-hour bucket width to ever take effect.
	DefaultStaleAfter = 30 * time.Minute
	// DefaultCompletedTTL is how long a completed run blocks a rerun.
	DefaultCompletedTTL = time.Hour
	// SweepAge is the age past which Sweep removes records.
	SweepAge = 24 * time.Hour

	releaseTimeout = 10 * time.Second
)

// ErrPanic wraps a panic raised by a guarded task.
var ErrPanic = errors.New("task panicked")

// ErrLeaseLost is returned by Complete when another owner took over the bucket.
var ErrLeaseLost = errors.New("execution lease lost")

// Outcome is what TryRun did with the task.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Reason explains a skip.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonAlreadyRunning   Reason = "already_running"
	ReasonAlreadyCompleted Reason = "already_completed"
)

// Result reports a TryRun call. Skips are results, never errors.
type Result struct {
	Key     string  `json:"key"`
	Outcome Outcome `json:"outcome"`
	Reason  Reason  `json:"reason,omitempty"`
	Err     error   `json:"-"`
}

// Lease holds the timing rules a RecordStore applies when admitting a run.
type Lease struct {
	StaleAfter   time.Duration
	CompletedTTL time.Duration
}

// Blocking reports why rec prevents a new run at now, or ReasonNone.
func (l Lease) Blocking(rec model.ExecutionRecord, now time.Time) Reason {
	switch rec.State {
	case model.ExecRunning:
		if now.Sub(rec.StartedAt) < l.StaleAfter {
			return ReasonAlreadyRunning
		}
	case model.ExecCompleted:
		if now.Sub(rec.CompletedAt) < l.CompletedTTL {
			return ReasonAlreadyCompleted
		}
	}
	return ReasonNone
}

// RecordStore persists execution records. Acquire must check and mark in one
// atomic step. Complete and Release only act on a running record held by the
// given owner, so a run whose lease was taken over cannot touch the new one.
type RecordStore interface {
	// Acquire marks key as running by owner at now unless an earlier record
	// still blocks it, in which case the blocking reason is returned.
	Acquire(ctx context.Context, key, owner string, now time.Time, lease Lease) (Reason, error)
	// Complete marks key as completed at the given time. It returns
	// ErrLeaseLost when owner no longer holds the running record.
	Complete(ctx context.Context, key, owner string, at time.Time) error
	// Release removes the record for key if it is still running under owner.
	Release(ctx context.Context, key, owner string) error
	// Sweep removes records last changed before the cutoff.
	Sweep(ctx context.Context, before time.Time) (int, error)
}

// Task is the unit of work a Guard runs.
type Task func(ctx context.Context) error

// Options configures a Guard.
type Options struct {
	// Location decides the date and hour of a bucket. Nil means UTC.
	Location *time.Location
	// StaleAfter and CompletedTTL default to DefaultStaleAfter and DefaultCompletedTTL.
	StaleAfter   time.Duration
	CompletedTTL time.Duration
	// TaskTimeout bounds the task context when positive.
	TaskTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Guard is the execution guard.
type Guard struct {
	store       RecordStore
	loc         *time.Location
	lease       Lease
	taskTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a Guard backed by store.
func New(store RecordStore, opts Options) *Guard {
	g := &Guard{
		store:       store,
		loc:         opts.Location,
		lease:       Lease{StaleAfter: opts.StaleAfter, CompletedTTL: opts.CompletedTTL},
		taskTimeout: opts.TaskTimeout,
		now:         opts.Now,
		logger:      opts.Logger,
	}
	if g.loc == nil {
		g.loc = time.UTC
	}
	if g.lease.StaleAfter <= 0 {
		g.lease.StaleAfter = DefaultStaleAfter
	}
	if g.lease.CompletedTTL <= 0 {
		g.lease.CompletedTTL = DefaultCompletedTTL
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Key returns the bucket key for a run at t.
func (g *Guard) Key(scope, taskID string, t time.Time) string {
	return fmt.Sprintf("%s|%s|%s", scope, taskID, t.In(g.loc).Format("2006-01-02|15"))
}

// TryRun runs task unless the current bucket already has a running or
// recently completed record.
func (g *Guard) TryRun(ctx context.Context, scope, taskID string, task Task) Result {
	now := g.now()
	key := g.Key(scope, taskID, now)

	owner := uuid.NewString()
	reason, err := g.store.Acquire(ctx, key, owner, now, g.lease)
	if err != nil {
		return Result{Key: key, Outcome: OutcomeFailed, Err: fmt.Errorf("acquire %s: %w", key, err)}
	}
	if reason != ReasonNone {
		g.logger.Debug("guarded task skipped", "key", key, "reason", reason)
		return Result{Key: key, Outcome: OutcomeSkipped, Reason: reason}
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := g.store.Release(rctx, key, owner); err != nil {
			g.logger.Error("release execution record", "key", key, "error", err)
		}
	}()

	if err := g.run(ctx, task); err != nil {
		return Result{Key: key, Outcome: OutcomeFailed, Err: err}
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := g.store.Complete(cctx, key, owner, g.now()); err != nil {
		if errors.Is(err, ErrLeaseLost) {
			g.logger.Warn("execution lease taken over before completion", "key", key)
			return Result{Key: key, Outcome: OutcomeExecuted}
		}
		// The task ran; the running marker is released so the bucket is not stuck.
		g.logger.Error("complete execution record", "key", key, "error", err)
		return Result{Key: key, Outcome: OutcomeExecuted}
	}
	completed = true
	return Result{Key: key, Outcome: OutcomeExecuted}
}

func (g *Guard) run(ctx context.Context, task Task) (err error) {
	if g.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.taskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task(ctx)
}

// Sweep removes records older than SweepAge.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	n, err := g.store.Sweep(ctx, g.now().Add(-SweepAge))
	if err != nil {
		return 0, fmt.Errorf("sweep execution records: %w", err)
	}
	return n, nil
}
