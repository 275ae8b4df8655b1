// Package checker runs the alert pipeline for accounts: guard, resolve
// targets, snapshot, evaluate, reconcile, persist, notify.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/alerts"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/evaluator"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/guard"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/lifecycle"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/snapshot"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/storage"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/targets"
)

// TaskAlertCheck is the guard task ID of an account alert run.
const TaskAlertCheck = "alert-check"

// Status is the outcome of one account run.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Reason qualifies a skipped run.
type Reason string

const (
	ReasonConfiguration    Reason = "configuration"
	ReasonDataUnavailable  Reason = "data_unavailable"
	ReasonAlreadyRunning   Reason = Reason(guard.ReasonAlreadyRunning)
	ReasonAlreadyCompleted Reason = Reason(guard.ReasonAlreadyCompleted)
)

// AccountResult is the structured outcome of one account run.
type AccountResult struct {
	AccountID  string        `json:"account_id"`
	Status     Status        `json:"status"`
	Reason     Reason        `json:"reason,omitempty"`
	Candidates int           `json:"candidates"`
	Notified   int           `json:"notified"`
	Resolved   int           `json:"resolved"`
	Unchanged  int           `json:"unchanged"`
	Expired    int           `json:"expired"`
	Alerts     []model.Alert `json:"alerts,omitempty"`
	Error      string        `json:"error,omitempty"`
	Err        error         `json:"-"`
}

// Recorder receives run telemetry.
type Recorder interface {
	RecordAccountRun(status, reason string, elapsed time.Duration)
	RecordTransition(kind, metric string, n int)
	RecordNotification(notifier string, err error)
	RecordGuardSkip(task, reason string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAccountRun(string, string, time.Duration) {}
func (nopRecorder) RecordTransition(string, string, int)           {}
func (nopRecorder) RecordNotification(string, error)               {}
func (nopRecorder) RecordGuardSkip(string, string)                 {}

// Deps are the collaborators of a Checker.
type Deps struct {
	Settings   targets.SettingsProvider
	Snapshots  snapshot.Provider
	History    storage.HistoryStore
	Guard      *guard.Guard
	Engine     *lifecycle.Engine
	Dispatcher *alerts.Dispatcher
	Policy     evaluator.Policy
	Rules      evaluator.Rules
	// Concurrency bounds parallel accounts in RunAll. Zero means 4.
	Concurrency int
	// RunTimeout bounds a single account run when positive.
	RunTimeout time.Duration
	Recorder   Recorder
	Now        func() time.Time
	Logger     *slog.Logger
}

// Checker orchestrates alert runs.
type Checker struct {
	settings    targets.SettingsProvider
	resolver    *targets.Resolver
	snapshots   snapshot.Provider
	history     storage.HistoryStore
	guard       *guard.Guard
	engine      *lifecycle.Engine
	dispatcher  *alerts.Dispatcher
	policy      evaluator.Policy
	rules       evaluator.Rules
	concurrency int
	runTimeout  time.Duration
	recorder    Recorder
	now         func() time.Time
	logger      *slog.Logger

	locks keyedMutex
}

// New creates a Checker.
func New(deps Deps) *Checker {
	c := &Checker{
		settings:    deps.Settings,
		snapshots:   deps.Snapshots,
		history:     deps.History,
		guard:       deps.Guard,
		engine:      deps.Engine,
		dispatcher:  deps.Dispatcher,
		policy:      deps.Policy,
		rules:       deps.Rules,
		concurrency: deps.Concurrency,
		runTimeout:  deps.RunTimeout,
		recorder:    deps.Recorder,
		now:         deps.Now,
		logger:      deps.Logger,
		locks:       keyedMutex{locks: make(map[string]*keyedEntry)},
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.engine == nil {
		c.engine = lifecycle.NewEngine(lifecycle.Options{})
	}
	if c.guard == nil {
		c.guard = guard.New(guard.NewMemoryStore(), guard.Options{Now: c.now, Logger: c.logger})
	}
	if c.policy.CriticalDeviation <= 0 {
		c.policy = evaluator.DefaultPolicy()
	}
	if c.rules == nil {
		c.rules = evaluator.DefaultRules()
	}
	if c.concurrency <= 0 {
		c.concurrency = 4
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	c.resolver = targets.NewResolver(c.settings, c.logger)
	return c
}

// Check runs the alert pipeline for one account through the execution guard.
func (c *Checker) Check(ctx context.Context, accountID string) AccountResult {
	start := time.Now()
	res := AccountResult{AccountID: accountID}

	gr := c.guard.TryRun(ctx, accountID, TaskAlertCheck, func(ctx context.Context) error {
		return c.run(ctx, accountID, &res)
	})

	switch gr.Outcome {
	case guard.OutcomeExecuted:
		res.Status = StatusExecuted
	case guard.OutcomeSkipped:
		res.Status = StatusSkipped
		res.Reason = Reason(gr.Reason)
		c.recorder.RecordGuardSkip(TaskAlertCheck, string(gr.Reason))
	default:
		c.classify(&res, gr.Err)
	}

	c.recorder.RecordAccountRun(string(res.Status), string(res.Reason), time.Since(start))
	c.logResult(res)
	return res
}

func (c *Checker) classify(res *AccountResult, err error) {
	var (
		cfgErr  *targets.ConfigurationError
		dataErr *snapshot.DataUnavailableError
	)
	switch {
	case errors.As(err, &cfgErr):
		res.Status, res.Reason = StatusSkipped, ReasonConfiguration
	case errors.As(err, &dataErr):
		res.Status, res.Reason = StatusSkipped, ReasonDataUnavailable
	default:
		res.Status = StatusFailed
	}
	res.Err = err
	if err != nil {
		res.Error = err.Error()
	}
}

func (c *Checker) logResult(res AccountResult) {
	switch {
	case res.Status == StatusFailed:
		c.logger.Error("alert check failed", "account", res.AccountID, "task", TaskAlertCheck, "error", res.Err)
	case res.Err != nil:
		c.logger.Warn("alert check skipped",
			"account", res.AccountID, "task", TaskAlertCheck, "reason", res.Reason, "error", res.Err)
	case res.Status == StatusSkipped:
		c.logger.Info("alert check skipped", "account", res.AccountID, "task", TaskAlertCheck, "reason", res.Reason)
	default:
		c.logger.Info("alert check finished",
			"account", res.AccountID,
			"candidates", res.Candidates,
			"notified", res.Notified,
			"resolved", res.Resolved,
			"unchanged", res.Unchanged,
			"expired", res.Expired,
		)
	}
}

func (c *Checker) run(ctx context.Context, accountID string, res *AccountResult) error {
	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.runTimeout)
		defer cancel()
	}

	targetSet, err := c.resolver.Resolve(ctx, accountID)
	if err != nil {
		return err
	}

	now := c.now()
	snap, err := c.snapshots.Snapshot(ctx, accountID, now)
	if err != nil {
		var dataErr *snapshot.DataUnavailableError
		if !errors.As(err, &dataErr) {
			err = &snapshot.DataUnavailableError{AccountID: accountID, Err: err}
		}
		return err
	}

	candidates := evaluator.Evaluate(accountID, snap, targetSet, c.policy, c.rules)
	res.Candidates = len(candidates)

	rec, err := c.reconcile(ctx, accountID, candidates, now)
	if err != nil {
		return err
	}

	res.Notified = len(rec.Notify)
	res.Resolved = len(rec.Resolved)
	res.Unchanged = len(rec.Unchanged)
	res.Expired = len(rec.Expired)
	res.Alerts = rec.Notify
	c.recordTransitions(rec)

	deliveries := c.dispatcher.Dispatch(ctx, alerts.Batch{AccountID: accountID, GeneratedAt: now, Alerts: rec.Notify})
	for _, d := range deliveries {
		c.recorder.RecordNotification(d.Notifier, d.Err)
	}
	return nil
}

// reconcile performs the history read-modify-write under the account lock.
func (c *Checker) reconcile(ctx context.Context, accountID string, candidates []model.Candidate, now time.Time) (lifecycle.Reconciliation, error) {
	unlock := c.locks.Lock(accountID)
	defer unlock()

	history, err := c.history.Load(ctx, accountID)
	if err != nil {
		c.logger.Error("load alert history, continuing with empty history",
			"account", accountID, "task", TaskAlertCheck, "error", err)
		history = nil
	}

	rec := c.engine.Reconcile(accountID, candidates, history, now)

	if err := c.history.Save(ctx, rec.History); err != nil {
		return rec, fmt.Errorf("save history: %w", err)
	}

	if len(rec.Expired) > 0 {
		if _, err := c.history.Prune(ctx, now.Add(-c.engine.Retention())); err != nil {
			c.logger.Warn("prune expired alerts", "account", accountID, "error", err)
		}
	}
	return rec, nil
}

func (c *Checker) recordTransitions(rec lifecycle.Reconciliation) {
	for _, a := range rec.Notify {
		kind := "updated"
		if a.FirstRaisedAt.Equal(a.Timestamp) {
			kind = "created"
		}
		c.recorder.RecordTransition(kind, string(a.Metric), 1)
	}
	for _, a := range rec.Resolved {
		c.recorder.RecordTransition("resolved", string(a.Metric), 1)
	}
	for _, a := range rec.Expired {
		c.recorder.RecordTransition("expired", string(a.Metric), 1)
	}
}

// Prune removes history entries that fell out of the retention window.
func (c *Checker) Prune(ctx context.Context) (int, error) {
	return c.PruneBefore(ctx, c.now().Add(-c.engine.Retention()))
}

// PruneBefore removes history entries last touched before the cutoff.
func (c *Checker) PruneBefore(ctx context.Context, before time.Time) (int, error) {
	n, err := c.history.Prune(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	if n > 0 {
		c.logger.Info("alert history pruned", "removed", n, "before", before)
	}
	return n, nil
}

// Alerts lists stored alerts matching filter.
func (c *Checker) Alerts(ctx context.Context, filter storage.Filter) ([]model.Alert, error) {
	all, err := c.history.Load(ctx, filter.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return filter.Apply(all), nil
}

// Accounts lists the enabled accounts.
func (c *Checker) Accounts(ctx context.Context) ([]string, error) {
	ids, err := c.settings.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return ids, nil
}

// keyedMutex serializes work per key. Entries are reference counted and
// removed once no goroutine holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
