// Package snapshot supplies the latest metric values for an account.
package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// Provider returns a point-in-time metric snapshot for an account.
type Provider interface {
	Snapshot(ctx context.Context, accountID string, asOf time.Time) (model.Snapshot, error)
}

// DataUnavailableError reports that metrics for an account could not be fetched.
type DataUnavailableError struct {
	AccountID string
	Err       error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("metrics unavailable for account %s: %v", e.AccountID, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// StaticProvider serves snapshots from memory.
type StaticProvider struct {
	mu     sync.RWMutex
	values map[string]map[model.Metric]float64
}

// NewStaticProvider creates an empty StaticProvider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{values: make(map[string]map[model.Metric]float64)}
}

// Set replaces the values for an account.
func (p *StaticProvider) Set(accountID string, values map[model.Metric]float64) {
	cp := make(map[model.Metric]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	p.mu.Lock()
	p.values[accountID] = cp
	p.mu.Unlock()
}

func (p *StaticProvider) Snapshot(_ context.Context, accountID string, asOf time.Time) (model.Snapshot, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	values, ok := p.values[accountID]
	if !ok {
		return model.Snapshot{}, &DataUnavailableError{AccountID: accountID, Err: fmt.Errorf("no snapshot")}
	}
	cp := make(map[model.Metric]float64, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return model.Snapshot{AccountID: accountID, AsOf: asOf, Values: cp}, nil
}
