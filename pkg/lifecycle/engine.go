// Package lifecycle reconciles candidate alerts against alert history.
//
// Each (account, metric) pair moves through NoAlert -> Active -> Resolved.
// A resolved alert is never reopened; a later breach creates a new alert
// with a new ID. The engine performs no I/O and never blocks, so callers are
// responsible for loading history before and persisting it after Reconcile.
package lifecycle

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// DefaultRetention is how long history entries take part in dedup decisions.
const DefaultRetention = 30 * 24 * time.Hour

// IDFunc generates alert identifiers.
type IDFunc func(accountID string, metric model.Metric, now time.Time) string

// Options configures an Engine.
type Options struct {
	// Retention drops entries last touched before now-Retention. Zero means DefaultRetention.
	Retention time.Duration
	// Location decides calendar-day boundaries. Nil means UTC.
	Location *time.Location
	// NewID overrides ID generation, mainly for tests.
	NewID IDFunc
}

// Engine is the dedup and lifecycle state machine.
type Engine struct {
	retention time.Duration
	loc       *time.Location
	newID     IDFunc
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	e := &Engine{
		retention: opts.Retention,
		loc:       opts.Location,
		newID:     opts.NewID,
	}
	if e.retention <= 0 {
		e.retention = DefaultRetention
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.newID == nil {
		e.newID = NewID
	}
	return e
}

// Retention returns the configured retention window.
func (e *Engine) Retention() time.Duration { return e.retention }

// NewID builds an ID from the creation time, account and metric plus a random
// suffix, so two alerts created in the same tick never collide.
func NewID(accountID string, metric model.Metric, now time.Time) string {
	return fmt.Sprintf("alert_%d_%s_%s_%s", now.UnixMilli(), accountID, metric, uuid.NewString()[:8])
}

// Reconciliation is the outcome of one run for one account.
type Reconciliation struct {
	// History is the full alert set to persist: retained alerts of the account
	// after this run plus any other accounts' alerts passed in.
	History []model.Alert
	// Notify holds alerts that were created or updated in this run.
	Notify []model.Alert
	// Resolved holds alerts that moved to resolved in this run.
	Resolved []model.Alert
	// Unchanged holds active alerts that matched a candidate exactly.
	Unchanged []model.Alert
	// Expired holds entries dropped for falling outside the retention window.
	Expired []model.Alert
}

// Reconcile applies one evaluation run's candidates to the history of accountID.
func (e *Engine) Reconcile(accountID string, candidates []model.Candidate, history []model.Alert, now time.Time) Reconciliation {
	var (
		res     Reconciliation
		others  []model.Alert
		working []model.Alert
	)
	cutoff := now.Add(-e.retention)

	for _, a := range history {
		if a.AccountID != accountID {
			others = append(others, a)
			continue
		}
		if a.LastTouched().Before(cutoff) {
			res.Expired = append(res.Expired, a)
			continue
		}
		a.Normalize()
		working = append(working, a)
	}

	res.Resolved = append(res.Resolved, e.repairDuplicates(working, now)...)

	byMetric := make(map[model.Metric]model.Candidate, len(candidates))
	var order []model.Metric
	for _, c := range candidates {
		if _, dup := byMetric[c.Metric]; dup {
			continue
		}
		byMetric[c.Metric] = c
		order = append(order, c.Metric)
	}

	// Resolve actives whose condition cleared.
	for i := range working {
		a := &working[i]
		if !a.IsActive() {
			continue
		}
		if _, still := byMetric[a.Metric]; still {
			continue
		}
		resolve(a, now)
		res.Resolved = append(res.Resolved, *a)
	}

	// Merge candidates.
	for _, metric := range order {
		c := byMetric[metric]
		idx := activeIndex(working, metric)
		if idx < 0 {
			a := e.create(accountID, c, now)
			working = append(working, a)
			res.Notify = append(res.Notify, a)
			continue
		}

		a := &working[idx]
		if model.SameDay(a.Timestamp, now, e.loc) && a.CurrentValue == c.CurrentValue && a.TargetValue == c.TargetValue {
			res.Unchanged = append(res.Unchanged, *a)
			continue
		}
		update(a, c, now)
		res.Notify = append(res.Notify, *a)
	}

	res.History = append(others, working...)
	return res
}

// repairDuplicates keeps only the most recently raised active alert per metric.
func (e *Engine) repairDuplicates(working []model.Alert, now time.Time) []model.Alert {
	actives := make(map[model.Metric][]int)
	for i := range working {
		if working[i].IsActive() {
			actives[working[i].Metric] = append(actives[working[i].Metric], i)
		}
	}

	var resolved []model.Alert
	for _, idxs := range actives {
		if len(idxs) < 2 {
			continue
		}
		sort.Slice(idxs, func(i, j int) bool {
			a, b := working[idxs[i]], working[idxs[j]]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.ID > b.ID
		})
		for _, i := range idxs[1:] {
			resolve(&working[i], now)
			resolved = append(resolved, working[i])
		}
	}
	return resolved
}

func (e *Engine) create(accountID string, c model.Candidate, now time.Time) model.Alert {
	a := model.Alert{
		ID:            e.newID(accountID, c.Metric, now),
		AccountID:     accountID,
		Metric:        c.Metric,
		Status:        model.StatusActive,
		Timestamp:     now,
		FirstRaisedAt: now,
	}
	apply(&a, c)
	return a
}

func update(a *model.Alert, c model.Candidate, now time.Time) {
	apply(a, c)
	a.Timestamp = now
	if a.FirstRaisedAt.IsZero() {
		a.FirstRaisedAt = now
	}
}

func apply(a *model.Alert, c model.Candidate) {
	a.TargetValue = c.TargetValue
	a.CurrentValue = c.CurrentValue
	a.Direction = c.Direction
	a.Severity = c.Severity
	a.Message = c.Message
	a.CheckItems = c.CheckItems.Clone()
	a.Improvements = c.Improvements.Clone()
}

func resolve(a *model.Alert, now time.Time) {
	at := now
	a.Status = model.StatusResolved
	a.ResolvedAt = &at
}

func activeIndex(alerts []model.Alert, metric model.Metric) int {
	for i := range alerts {
		if alerts[i].Metric == metric && alerts[i].IsActive() {
			return i
		}
	}
	return -1
}
