package lifecycle_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/evaluator"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/lifecycle"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

var base = time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

func sequentialIDs() lifecycle.IDFunc {
	n := 0
	return func(accountID string, metric model.Metric, _ time.Time) string {
		n++
		return fmt.Sprintf("%s-%s-%d", accountID, metric, n)
	}
}

func newEngine() *lifecycle.Engine {
	return lifecycle.NewEngine(lifecycle.Options{NewID: sequentialIDs()})
}

func candidate(metric model.Metric, current, target float64) model.Candidate {
	dir := model.HigherBetter
	if d, ok := model.Lookup(metric); ok {
		dir = d.Direction
	}
	sev := evaluator.DefaultPolicy().Grade(metric, current, target)
	return model.Candidate{
		AccountID:    "acct-1",
		Metric:       metric,
		TargetValue:  target,
		CurrentValue: current,
		Direction:    dir,
		Severity:     sev,
		Message:      evaluator.Message(metric, current, target, dir, sev),
		CheckItems:   model.StringList{"check"},
		Improvements: model.Improvements{"general": {"fix"}},
	}
}

func actives(history []model.Alert, accountID string) map[model.Metric]int {
	out := make(map[model.Metric]int)
	for _, a := range history {
		if a.AccountID == accountID && a.IsActive() {
			out[a.Metric]++
		}
	}
	return out
}

func TestReconcile_CreatesActiveAlert(t *testing.T) {
	e := newEngine()
	res := e.Reconcile("acct-1", []model.Candidate{candidate(model.MetricCTR, 0.6, 1.0)}, nil, base)

	require.Len(t, res.History, 1)
	require.Len(t, res.Notify, 1)
	a := res.History[0]
	assert.Equal(t, "acct-1-ctr-1", a.ID)
	assert.Equal(t, model.StatusActive, a.Status)
	assert.Equal(t, base, a.Timestamp)
	assert.Equal(t, base, a.FirstRaisedAt)
	assert.Nil(t, a.ResolvedAt)
	assert.Equal(t, res.Notify[0], a)
}

func TestReconcile_Idempotent(t *testing.T) {
	e := newEngine()
	cands := []model.Candidate{
		candidate(model.MetricCTR, 0.6, 1.0),
		candidate(model.MetricCPM, 1500, 1000),
	}
	first := e.Reconcile("acct-1", cands, nil, base)
	second := e.Reconcile("acct-1", cands, first.History, base.Add(time.Minute))

	assert.Len(t, first.Notify, 2)
	assert.Empty(t, second.Notify)
	assert.Len(t, second.Unchanged, 2)
	assert.Equal(t, first.History, second.History)
}

func TestReconcile_ResolvesClearedMetric(t *testing.T) {
	e := newEngine()
	first := e.Reconcile("acct-1", []model.Candidate{candidate(model.MetricCTR, 0.6, 1.0)}, nil, base)
	later := base.Add(3 * time.Hour)
	second := e.Reconcile("acct-1", nil, first.History, later)

	require.Len(t, second.Resolved, 1)
	require.Len(t, second.History, 1)
	a := second.History[0]
	assert.Equal(t, model.StatusResolved, a.Status)
	require.NotNil(t, a.ResolvedAt)
	assert.Equal(t, later, *a.ResolvedAt)
	assert.Empty(t, second.Notify)
}

func TestReconcile_UpdatesChangedValuesSameDay(t *testing.T) {
	e := newEngine()
	first := e.Reconcile("acct-1", []model.Candidate{candidate(model.MetricCTR, 0.6, 1.0)}, nil, base)
	later := base.Add(4 * time.Hour)
	second := e.Reconcile("acct-1", []model.Candidate{candidate(model.MetricCTR, 0.8, 1.0)}, first.History, later)

	require.Len(t, second.History, 1)
	require.Len(t, second.Notify, 1)
	a := second.History[0]
	assert.Equal(t, first.History[0].ID, a.ID)
	assert.Equal(t, 0.8, a.CurrentValue)
	assert.Contains(t, a.Message, "0.8%")
	assert.NotContains(t, a.Message, "0.6%")
	assert.Equal(t, later, a.Timestamp)
	assert.Equal(t, base, a.FirstRaisedAt)
}

func TestReconcile_TargetChangeUpdates(t *testing.T) {
	e := newEngine()
	first := e.Reconcile("acct-1", []model.Candidate{candidate(model.MetricCTR, 0.6, 1.0)}, nil, base)
	second := e.Reconcile("acct-1", []model.Candidate{candidate(model.MetricCTR, 0.6, 0.9)}, first.History, base.Add(time.Hour))

	require.Len(t, second.Notify, 1)
	assert.Equal(t, 0.9, second.History[0].TargetValue)
}

func TestReconcile_NextDayRefreshes(t *testing.T) {
	e := newEngine()
	c := candidate(model.MetricCTR, 0.6, 1.0)
	first := e.Reconcile("acct-1", []model.Candidate{c}, nil, base)
	nextDay := base.Add(24 * time.Hour)
	second := e.Reconcile("acct-1", []model.Candidate{c}, first.History, nextDay)

	require.Len(t, second.Notify, 1)
	require.Len(t, second.History, 1)
	assert.Equal(t, nextDay, second.History[0].Timestamp)

	// Later the same day it is a no-op again.
	third := e.Reconcile("acct-1", []model.Candidate{c}, second.History, nextDay.Add(2*time.Hour))
	assert.Empty(t, third.Notify)
}

func TestReconcile_CalendarDayUsesLocation(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	e := lifecycle.NewEngine(lifecycle.Options{Location: jst, NewID: sequentialIDs()})
	c := candidate(model.MetricCTR, 0.6, 1.0)

	// 14:00 UTC and 16:00 UTC are 23:00 and 01:00 in JST.
	first := e.Reconcile("acct-1", []model.Candidate{c}, nil, time.Date(2026, 5, 12, 14, 0, 0, 0, time.UTC))
	second := e.Reconcile("acct-1", []model.Candidate{c}, first.History, time.Date(2026, 5, 12, 16, 0, 0, 0, time.UTC))
	assert.Len(t, second.Notify, 1)
}

func TestReconcile_NewAlertAfterResolution(t *testing.T) {
	e := newEngine()
	c := candidate(model.MetricCTR, 0.6, 1.0)
	r1 := e.Reconcile("acct-1", []model.Candidate{c}, nil, base)
	r2 := e.Reconcile("acct-1", nil, r1.History, base.Add(time.Hour))
	r3 := e.Reconcile("acct-1", []model.Candidate{c}, r2.History, base.Add(2*time.Hour))

	require.Len(t, r3.History, 2)
	require.Len(t, r3.Notify, 1)
	assert.NotEqual(t, r1.History[0].ID, r3.Notify[0].ID)
	assert.Equal(t, model.StatusResolved, r3.History[0].Status)
	assert.Equal(t, model.StatusActive, r3.History[1].Status)
}

func TestReconcile_ExpiresOldEntries(t *testing.T) {
	e := newEngine()
	old := base.Add(-31 * 24 * time.Hour)
	resolvedAt := old.Add(time.Hour)
	history := []model.Alert{
		{ID: "old-active", AccountID: "acct-1", Metric: model.MetricCTR, Status: model.StatusActive,
			TargetValue: 1.0, CurrentValue: 0.6, Timestamp: old},
		{ID: "old-resolved", AccountID: "acct-1", Metric: model.MetricCPM, Status: model.StatusResolved,
			Timestamp: old, ResolvedAt: &resolvedAt},
	}

	res := e.Reconcile("acct-1", []model.Candidate{candidate(model.MetricCTR, 0.6, 1.0)}, history, base)

	assert.Len(t, res.Expired, 2)
	require.Len(t, res.History, 1)
	assert.NotEqual(t, "old-active", res.History[0].ID)
	assert.Len(t, res.Notify, 1)
}

func TestReconcile_RepairsDuplicateActives(t *testing.T) {
	e := newEngine()
	history := []model.Alert{
		{ID: "a", AccountID: "acct-1", Metric: model.MetricCTR, Status: model.StatusActive, Timestamp: base.Add(-2 * time.Hour)},
		{ID: "b", AccountID: "acct-1", Metric: model.MetricCTR, Status: model.StatusActive, Timestamp: base.Add(-time.Hour),
			TargetValue: 1.0, CurrentValue: 0.6},
	}

	res := e.Reconcile("acct-1", []model.Candidate{candidate(model.MetricCTR, 0.6, 1.0)}, history, base)

	assert.Equal(t, 1, actives(res.History, "acct-1")[model.MetricCTR])
	require.Len(t, res.Resolved, 1)
	assert.Equal(t, "a", res.Resolved[0].ID)
	assert.Empty(t, res.Notify)
}

func TestReconcile_PassesOtherAccountsThrough(t *testing.T) {
	e := newEngine()
	other := model.Alert{ID: "x", AccountID: "acct-2", Metric: model.MetricCTR, Status: model.StatusActive, Timestamp: base}
	res := e.Reconcile("acct-1", nil, []model.Alert{other}, base)

	require.Len(t, res.History, 1)
	assert.Equal(t, other, res.History[0])
	assert.Empty(t, res.Resolved)
}

func TestReconcile_NormalizesShapes(t *testing.T) {
	e := newEngine()
	history := []model.Alert{
		{ID: "legacy", AccountID: "acct-1", Metric: model.MetricCPM, Status: model.StatusResolved, Timestamp: base},
	}
	c := candidate(model.MetricCTR, 0.6, 1.0)
	c.CheckItems = nil
	c.Improvements = model.Improvements{"creative": nil}

	res := e.Reconcile("acct-1", []model.Candidate{c}, history, base)
	for _, a := range append(res.History, res.Notify...) {
		assert.NotNil(t, a.CheckItems, a.ID)
		assert.NotNil(t, a.Improvements, a.ID)
		for k, v := range a.Improvements {
			assert.NotNil(t, v, k)
		}
	}
}

func TestReconcile_AtMostOneActiveProperty(t *testing.T) {
	e := newEngine()
	rng := rand.New(rand.NewSource(7))
	metrics := model.Metrics()

	var history []model.Alert
	now := base
	for run := 0; run < 300; run++ {
		now = now.Add(time.Duration(rng.Intn(6)+1) * time.Hour)
		var cands []model.Candidate
		for _, m := range metrics {
			if rng.Intn(2) == 0 {
				cands = append(cands, candidate(m, float64(rng.Intn(3)+1), 10))
			}
		}
		res := e.Reconcile("acct-1", cands, history, now)
		history = res.History

		for m, n := range actives(history, "acct-1") {
			require.LessOrEqual(t, n, 1, "run %d metric %s", run, m)
		}
		active := actives(history, "acct-1")
		for _, c := range cands {
			assert.Equal(t, 1, active[c.Metric])
		}
		assert.Len(t, active, len(cands))
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := lifecycle.NewID("acct-1", model.MetricCTR, base)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
