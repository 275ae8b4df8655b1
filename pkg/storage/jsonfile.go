package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// JSONFile keeps the whole alert history in one JSON array on disk. Writes go
// to a temporary file that is renamed over the original.
type JSONFile struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewJSONFile creates a JSONFile store at path. The file is created on first save.
func NewJSONFile(path string) (*JSONFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	return &JSONFile{path: path, now: time.Now}, nil
}

func (f *JSONFile) Load(_ context.Context, accountID string) ([]model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.read()
	if err != nil {
		return nil, err
	}
	if accountID == "" {
		return all, nil
	}
	return Filter{AccountID: accountID}.Apply(all), nil
}

func (f *JSONFile) Save(_ context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, err := f.read()
	var corrupt *CorruptionError
	if errors.As(err, &corrupt) {
		aside := fmt.Sprintf("%s.corrupt-%d", f.path, f.now().Unix())
		if rerr := os.Rename(f.path, aside); rerr != nil {
			return fmt.Errorf("move corrupt history aside: %w", rerr)
		}
		existing = nil
	} else if err != nil {
		return err
	}

	byID := make(map[string]int, len(existing))
	for i, a := range existing {
		byID[a.ID] = i
	}
	for _, a := range alerts {
		a.Normalize()
		if i, ok := byID[a.ID]; ok {
			existing[i] = a
			continue
		}
		byID[a.ID] = len(existing)
		existing = append(existing, a)
	}
	return f.write(existing)
}

func (f *JSONFile) Prune(_ context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.read()
	if err != nil {
		return 0, err
	}
	kept := all[:0]
	for _, a := range all {
		if !a.LastTouched().Before(before) {
			kept = append(kept, a)
		}
	}
	removed := len(all) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := f.write(kept); err != nil {
		return 0, err
	}
	return removed, nil
}

func (f *JSONFile) Close() error { return nil }

func (f *JSONFile) read() ([]model.Alert, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var alerts []model.Alert
	if err := json.Unmarshal(data, &alerts); err != nil {
		return nil, &CorruptionError{Path: f.path, Err: err}
	}
	for i := range alerts {
		alerts[i].Normalize()
	}
	sort.SliceStable(alerts, func(i, j int) bool {
		if !alerts[i].FirstRaisedAt.Equal(alerts[j].FirstRaisedAt) {
			return alerts[i].FirstRaisedAt.Before(alerts[j].FirstRaisedAt)
		}
		return alerts[i].ID < alerts[j].ID
	})
	return alerts, nil
}

func (f *JSONFile) write(alerts []model.Alert) error {
	if alerts == nil {
		alerts = []model.Alert{}
	}
	data, err := json.MarshalIndent(alerts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp history: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp history: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace history: %w", err)
	}
	return nil
}
