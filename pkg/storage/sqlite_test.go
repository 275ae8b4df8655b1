package storage_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/guard"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/storage"
)

var base = time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *storage.SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleAlert(id, account string, metric model.Metric, raised time.Time) model.Alert {
	return model.Alert{
		ID:            id,
		AccountID:     account,
		Metric:        metric,
		TargetValue:   1.0,
		CurrentValue:  0.6,
		Direction:     model.HigherBetter,
		Severity:      model.SeverityWarning,
		Message:       "[warning] CTR 0.6% is below target 1.0% (40% off)",
		Status:        model.StatusActive,
		CheckItems:    model.StringList{"Creative fatigue"},
		Improvements:  model.Improvements{"creative": {"Rotate images"}},
		Timestamp:     raised,
		FirstRaisedAt: raised,
	}
}

// historyStoreContract runs the behaviour every HistoryStore must share.
func historyStoreContract(t *testing.T, store storage.HistoryStore) {
	ctx := context.Background()

	empty, err := store.Load(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	a1 := sampleAlert("a1", "acct-1", model.MetricCTR, base)
	a2 := sampleAlert("a2", "acct-1", model.MetricCPM, base.Add(time.Hour))
	a2.CheckItems = nil
	a2.Improvements = nil
	b1 := sampleAlert("b1", "acct-2", model.MetricCTR, base.Add(30*time.Minute))
	require.NoError(t, store.Save(ctx, []model.Alert{a1, a2, b1}))

	got, err := store.Load(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "a2", got[1].ID)
	assert.Equal(t, a1, got[0])
	assert.Equal(t, model.StringList{}, got[1].CheckItems)
	assert.NotNil(t, got[1].Improvements)

	all, err := store.Load(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a1", "b1", "a2"}, []string{all[0].ID, all[1].ID, all[2].ID})

	// Upsert by ID.
	resolvedAt := base.Add(2 * time.Hour)
	a1.Status = model.StatusResolved
	a1.ResolvedAt = &resolvedAt
	a1.CurrentValue = 1.2
	require.NoError(t, store.Save(ctx, []model.Alert{a1}))

	got, err = store.Load(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.StatusResolved, got[0].Status)
	require.NotNil(t, got[0].ResolvedAt)
	assert.True(t, resolvedAt.Equal(*got[0].ResolvedAt))
	assert.Equal(t, 1.2, got[0].CurrentValue)

	// Prune by last touch: a1 was touched at resolution, a2 and b1 when raised.
	n, err := store.Prune(ctx, base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err = store.Load(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a1", all[0].ID)

	require.NoError(t, store.Save(ctx, nil))
}

// recordStoreContract runs the behaviour every guard.RecordStore must share.
func recordStoreContract(t *testing.T, store guard.RecordStore) {
	ctx := context.Background()
	lease := guard.Lease{StaleAfter: 2 * time.Hour, CompletedTTL: time.Hour}

	reason, err := store.Acquire(ctx, "k1", "a", base, lease)
	require.NoError(t, err)
	assert.Equal(t, guard.ReasonNone, reason)

	reason, err = store.Acquire(ctx, "k1", "b", base.Add(time.Minute), lease)
	require.NoError(t, err)
	assert.Equal(t, guard.ReasonAlreadyRunning, reason)

	require.NoError(t, store.Complete(ctx, "k1", "a", base.Add(2*time.Minute)))
	reason, err = store.Acquire(ctx, "k1", "b", base.Add(3*time.Minute), lease)
	require.NoError(t, err)
	assert.Equal(t, guard.ReasonAlreadyCompleted, reason)

	require.NoError(t, store.Release(ctx, "k1", "a"))
	reason, err = store.Acquire(ctx, "k1", "b", base.Add(4*time.Minute), lease)
	require.NoError(t, err)
	assert.Equal(t, guard.ReasonAlreadyCompleted, reason, "release must not drop completed records")

	// Stale running record is taken over; the displaced owner cannot touch it.
	_, err = store.Acquire(ctx, "k2", "a", base, lease)
	require.NoError(t, err)
	reason, err = store.Acquire(ctx, "k2", "b", base.Add(3*time.Hour), lease)
	require.NoError(t, err)
	assert.Equal(t, guard.ReasonNone, reason)

	require.NoError(t, store.Release(ctx, "k2", "a"))
	assert.ErrorIs(t, store.Complete(ctx, "k2", "a", base.Add(3*time.Hour)), guard.ErrLeaseLost)
	reason, err = store.Acquire(ctx, "k2", "c", base.Add(3*time.Hour), lease)
	require.NoError(t, err)
	assert.Equal(t, guard.ReasonAlreadyRunning, reason)

	require.NoError(t, store.Release(ctx, "k2", "b"))
	reason, err = store.Acquire(ctx, "k2", "c", base.Add(3*time.Hour), lease)
	require.NoError(t, err)
	assert.Equal(t, guard.ReasonNone, reason)

	n, err := store.Sweep(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_HistoryStore(t *testing.T) {
	historyStoreContract(t, newTestDB(t))
}

func TestSQLite_RecordStore(t *testing.T) {
	recordStoreContract(t, newTestDB(t))
}

func TestMemoryStore_RecordStore(t *testing.T) {
	recordStoreContract(t, guard.NewMemoryStore())
}

func TestSQLite_Record(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, ok, err := db.Record(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.Acquire(ctx, "k", "owner-1", base, guard.Lease{StaleAfter: time.Hour, CompletedTTL: time.Hour})
	require.NoError(t, err)
	rec, ok, err := db.Record(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "owner-1", rec.Owner)
	require.NoError(t, db.Complete(ctx, "k", "owner-1", base.Add(time.Minute)))

	rec, ok, err = db.Record(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.ExecCompleted, rec.State)
	assert.True(t, base.Equal(rec.StartedAt))
	assert.True(t, base.Add(time.Minute).Equal(rec.CompletedAt))
}

func TestSQLite_GuardExclusivity(t *testing.T) {
	db := newTestDB(t)
	g := guard.New(db, guard.Options{Now: func() time.Time { return base }})

	var (
		mu  sync.Mutex
		ran int
		wg  sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.TryRun(context.Background(), "acct-1", "alert-check", func(context.Context) error {
				mu.Lock()
				ran++
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ran)
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Save(context.Background(), []model.Alert{sampleAlert("a1", "acct-1", model.MetricCTR, base)}))
	require.NoError(t, db.Close())

	db, err = storage.NewSQLite(dbPath)
	require.NoError(t, err)
	defer db.Close()
	got, err := db.Load(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "sqlite", db.Driver())
}

func TestSQLite_UndecodableRowStaysInHistory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	db, err := storage.NewSQLite(dbPath)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.Save(ctx, []model.Alert{
		sampleAlert("a1", "acct-1", model.MetricCTR, base),
		sampleAlert("a2", "acct-1", model.MetricCPC, base),
	}))

	raw, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	_, err = raw.Exec("UPDATE alerts SET check_items = '{bad', improvements = 'nope' WHERE id = 'a2'")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	got, err := db.Load(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	byID := map[string]model.Alert{got[0].ID: got[0], got[1].ID: got[1]}
	assert.Equal(t, model.StringList{"Creative fatigue"}, byID["a1"].CheckItems)
	assert.NotNil(t, byID["a2"].CheckItems)
	assert.Empty(t, byID["a2"].CheckItems)
	assert.NotNil(t, byID["a2"].Improvements)
	assert.Equal(t, model.StatusActive, byID["a2"].Status)

	// Saving the loaded history rewrites the row with valid payloads.
	require.NoError(t, db.Save(ctx, got))
	got, err = db.Load(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{"", storage.DriverSQLite, storage.DriverJSON} {
		store, err := storage.Open(context.Background(), storage.Options{Driver: driver, Path: filepath.Join(dir, driver+"history")})
		require.NoError(t, err, driver)
		require.NoError(t, store.Close())
	}

	_, err := storage.Open(context.Background(), storage.Options{Driver: "mongo"})
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	resolved := sampleAlert("r", "acct-1", model.MetricCPM, base)
	resolved.Status = model.StatusResolved
	alerts := []model.Alert{
		sampleAlert("a", "acct-1", model.MetricCTR, base),
		sampleAlert("b", "acct-2", model.MetricCTR, base),
		resolved,
	}

	assert.Len(t, storage.Filter{}.Apply(alerts), 3)
	assert.Len(t, storage.Filter{AccountID: "acct-1"}.Apply(alerts), 2)
	got := storage.Filter{AccountID: "acct-1", Status: model.StatusActive}.Apply(alerts)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}
