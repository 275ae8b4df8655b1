package storage_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/storage"
)

func newPostgres(t *testing.T) *storage.SQLStore {
	t.Helper()
	dsn := os.Getenv("AAG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AAG_TEST_POSTGRES_DSN not set")
	}
	db, err := storage.NewPostgres(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Prune(context.Background(), base.AddDate(100, 0, 0))
		_, _ = db.Sweep(context.Background(), base.AddDate(100, 0, 0))
		db.Close()
	})
	// Start from a clean slate in a shared database.
	_, err = db.Prune(context.Background(), base.AddDate(100, 0, 0))
	require.NoError(t, err)
	_, err = db.Sweep(context.Background(), base.AddDate(100, 0, 0))
	require.NoError(t, err)
	return db
}

func TestPostgres_HistoryStore(t *testing.T) {
	historyStoreContract(t, newPostgres(t))
}

func TestPostgres_RecordStore(t *testing.T) {
	recordStoreContract(t, newPostgres(t))
}
