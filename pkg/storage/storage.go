package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// HistoryStore persists alert history.
type HistoryStore interface {
	// Load returns the alerts of one account, or of every account when
	// accountID is empty, ordered by first raise time.
	Load(ctx context.Context, accountID string) ([]model.Alert, error)

	// Save upserts alerts by ID in a single transaction.
	Save(ctx context.Context, alerts []model.Alert) error

	// Prune deletes alerts last touched before the cutoff and reports how many were removed.
	Prune(ctx context.Context, before time.Time) (int, error)

	// Close releases resources.
	Close() error
}

// CorruptionError reports stored history that could not be decoded.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt history %s: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Filter selects alerts for listing.
type Filter struct {
	AccountID string
	Status    model.Status
}

// Apply returns the alerts matching f.
func (f Filter) Apply(alerts []model.Alert) []model.Alert {
	out := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if f.AccountID != "" && a.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverJSON     = "json"
)

// Options selects and configures a history backend.
type Options struct {
	Driver string
	Path   string
	DSN    string
	// Logger reports rows the SQL stores could not fully decode.
	Logger *slog.Logger
}

// Open creates the HistoryStore named by opts.Driver. An empty driver means SQLite.
func Open(ctx context.Context, opts Options) (HistoryStore, error) {
	var (
		store HistoryStore
		err   error
	)
	switch opts.Driver {
	case "", DriverSQLite:
		store, err = NewSQLite(opts.Path)
	case DriverPostgres:
		store, err = NewPostgres(ctx, opts.DSN)
	case DriverJSON:
		store, err = NewJSONFile(opts.Path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	if s, ok := store.(*SQLStore); ok {
		s.SetLogger(opts.Logger)
	}
	return store, nil
}
