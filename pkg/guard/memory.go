package guard

import (
	"context"
	"sync"
	"time"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// MemoryStore keeps execution records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]model.ExecutionRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.ExecutionRecord)}
}

func (m *MemoryStore) Acquire(_ context.Context, key, owner string, now time.Time, lease Lease) (Reason, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[key]; ok {
		if reason := lease.Blocking(rec, now); reason != ReasonNone {
			return reason, nil
		}
	}
	m.records[key] = model.ExecutionRecord{Key: key, State: model.ExecRunning, Owner: owner, StartedAt: now}
	return ReasonNone, nil
}

func (m *MemoryStore) Complete(_ context.Context, key, owner string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || rec.State != model.ExecRunning || rec.Owner != owner {
		return ErrLeaseLost
	}
	rec.State = model.ExecCompleted
	rec.CompletedAt = at
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) Release(_ context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[key]; ok && rec.State == model.ExecRunning && rec.Owner == owner {
		delete(m.records, key)
	}
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, rec := range m.records {
		if lastChanged(rec).Before(before) {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

// Get returns the record for key.
func (m *MemoryStore) Get(key string) (model.ExecutionRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok
}

func lastChanged(rec model.ExecutionRecord) time.Time {
	if rec.State == model.ExecCompleted {
		return rec.CompletedAt
	}
	return rec.StartedAt
}
