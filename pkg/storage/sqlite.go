package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/guard"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"

	_ "modernc.org/sqlite"
)

type dialect struct {
	name           string
	placeholders   bool
	migrationTable string
	migrations     []string
}

// rebind rewrites ? placeholders to $n for dialects that need it.
func (d dialect) rebind(query string) string {
	if !d.placeholders {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var sqliteDialect = dialect{
	name: "sqlite",
	migrationTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	migrations: sqliteMigrations,
}

// SQLStore stores alert history and execution records in SQLite or Postgres.
// It implements both HistoryStore and guard.RecordStore.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// SetLogger replaces the logger used to report undecodable rows.
func (s *SQLStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer at a time keeps guard check-and-mark free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db, sqliteDialect); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLStore{db: db, dialect: sqliteDialect, logger: slog.Default()}, nil
}

// Driver returns the dialect name.
func (s *SQLStore) Driver() string { return s.dialect.name }

const alertColumns = `id, account_id, metric, target_value, current_value, direction, severity, message, status,
	check_items, improvements, raised_at_ms, first_raised_at_ms, resolved_at_ms, last_touched_ms`

func (s *SQLStore) Load(ctx context.Context, accountID string) ([]model.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts"
	var args []any
	if accountID != "" {
		query += " WHERE account_id = ?"
		args = append(args, accountID)
	}
	query += " ORDER BY first_raised_at_ms, id"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := s.scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// scanAlert decodes one row. Undecodable check items or improvements are
// logged and replaced with empty values so the row still takes part in dedup.
func (s *SQLStore) scanAlert(rows *sql.Rows) (model.Alert, error) {
	var (
		a                                model.Alert
		checkItems, improvements         string
		raisedMs, firstRaisedMs, touched int64
		resolvedMs                       sql.NullInt64
	)
	if err := rows.Scan(&a.ID, &a.AccountID, &a.Metric, &a.TargetValue, &a.CurrentValue,
		&a.Direction, &a.Severity, &a.Message, &a.Status,
		&checkItems, &improvements, &raisedMs, &firstRaisedMs, &resolvedMs, &touched); err != nil {
		return a, fmt.Errorf("scan alert row: %w", err)
	}
	if err := json.Unmarshal([]byte(checkItems), &a.CheckItems); err != nil {
		s.logger.Error("decode alert check items, using empty list",
			"alert_id", a.ID, "account", a.AccountID, "error", &CorruptionError{Path: "alerts/" + a.ID + "/check_items", Err: err})
		a.CheckItems = nil
	}
	if err := json.Unmarshal([]byte(improvements), &a.Improvements); err != nil {
		s.logger.Error("decode alert improvements, using empty map",
			"alert_id", a.ID, "account", a.AccountID, "error", &CorruptionError{Path: "alerts/" + a.ID + "/improvements", Err: err})
		a.Improvements = nil
	}
	a.Timestamp = fromMillis(raisedMs)
	a.FirstRaisedAt = fromMillis(firstRaisedMs)
	if resolvedMs.Valid {
		t := fromMillis(resolvedMs.Int64)
		a.ResolvedAt = &t
	}
	a.Normalize()
	return a, nil
}

func (s *SQLStore) Save(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(`INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  account_id = excluded.account_id,
		  metric = excluded.metric,
		  target_value = excluded.target_value,
		  current_value = excluded.current_value,
		  direction = excluded.direction,
		  severity = excluded.severity,
		  message = excluded.message,
		  status = excluded.status,
		  check_items = excluded.check_items,
		  improvements = excluded.improvements,
		  raised_at_ms = excluded.raised_at_ms,
		  first_raised_at_ms = excluded.first_raised_at_ms,
		  resolved_at_ms = excluded.resolved_at_ms,
		  last_touched_ms = excluded.last_touched_ms`))
	if err != nil {
		return fmt.Errorf("prepare alert upsert: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		a.Normalize()
		checkItems, err := json.Marshal(a.CheckItems)
		if err != nil {
			return fmt.Errorf("encode check items for %s: %w", a.ID, err)
		}
		improvements, err := json.Marshal(a.Improvements)
		if err != nil {
			return fmt.Errorf("encode improvements for %s: %w", a.ID, err)
		}
		var resolved sql.NullInt64
		if a.ResolvedAt != nil {
			resolved = sql.NullInt64{Int64: a.ResolvedAt.UnixMilli(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.AccountID, string(a.Metric), a.TargetValue, a.CurrentValue,
			string(a.Direction), string(a.Severity), a.Message, string(a.Status),
			string(checkItems), string(improvements),
			a.Timestamp.UnixMilli(), a.FirstRaisedAt.UnixMilli(), resolved, a.LastTouched().UnixMilli(),
		); err != nil {
			return fmt.Errorf("upsert alert %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *SQLStore) Prune(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		s.dialect.rebind("DELETE FROM alerts WHERE last_touched_ms < ?"), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// Acquire inserts a running record, or takes over a stale or expired one, in
// a single conditional upsert.
func (s *SQLStore) Acquire(ctx context.Context, key, owner string, now time.Time, lease guard.Lease) (guard.Reason, error) {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO execution_records (bucket_key, state, owner, started_at_ms, completed_at_ms)
		 VALUES (?, 'running', ?, ?, 0)
		 ON CONFLICT(bucket_key) DO UPDATE SET
		   state = 'running',
		   owner = excluded.owner,
		   started_at_ms = excluded.started_at_ms,
		   completed_at_ms = 0
		 WHERE (execution_records.state = 'running' AND execution_records.started_at_ms <= ?)
		    OR (execution_records.state = 'completed' AND execution_records.completed_at_ms <= ?)`),
		key, owner, now.UnixMilli(), now.Add(-lease.StaleAfter).UnixMilli(), now.Add(-lease.CompletedTTL).UnixMilli(),
	)
	if err != nil {
		return guard.ReasonNone, fmt.Errorf("acquire execution record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return guard.ReasonNone, fmt.Errorf("check rows affected: %w", err)
	}
	if n > 0 {
		return guard.ReasonNone, nil
	}

	rec, ok, err := s.Record(ctx, key)
	if err != nil {
		return guard.ReasonNone, err
	}
	if ok && rec.State == model.ExecCompleted {
		return guard.ReasonAlreadyCompleted, nil
	}
	return guard.ReasonAlreadyRunning, nil
}

func (s *SQLStore) Complete(ctx context.Context, key, owner string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE execution_records SET state = 'completed', completed_at_ms = ?
		 WHERE bucket_key = ? AND state = 'running' AND owner = ?`),
		at.UnixMilli(), key, owner,
	)
	if err != nil {
		return fmt.Errorf("complete execution record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return guard.ErrLeaseLost
	}
	return nil
}

func (s *SQLStore) Release(ctx context.Context, key, owner string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		"DELETE FROM execution_records WHERE bucket_key = ? AND state = 'running' AND owner = ?"), key, owner)
	if err != nil {
		return fmt.Errorf("release execution record: %w", err)
	}
	return nil
}

func (s *SQLStore) Sweep(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.UnixMilli()
	result, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM execution_records
		 WHERE (state = 'completed' AND completed_at_ms < ?)
		    OR (state = 'running' AND started_at_ms < ?)`), cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep execution records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// Record returns the execution record for key.
func (s *SQLStore) Record(ctx context.Context, key string) (model.ExecutionRecord, bool, error) {
	var (
		rec                  model.ExecutionRecord
		startedMs, completed int64
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT bucket_key, state, owner, started_at_ms, completed_at_ms FROM execution_records WHERE bucket_key = ?"), key,
	).Scan(&rec.Key, &rec.State, &rec.Owner, &startedMs, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("get execution record: %w", err)
	}
	rec.StartedAt = fromMillis(startedMs)
	if completed > 0 {
		rec.CompletedAt = fromMillis(completed)
	}
	return rec, true, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
