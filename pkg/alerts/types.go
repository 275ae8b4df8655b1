package alerts

import (
	"context"
	"time"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// Batch is the set of alerts one account run created or updated.
type Batch struct {
	AccountID   string        `json:"account_id"`
	GeneratedAt time.Time     `json:"generated_at"`
	Alerts      []model.Alert `json:"alerts"`
}

// Notifier sends alert batches to external systems.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers a batch. Implementations must be safe for concurrent use.
	Send(ctx context.Context, batch Batch) error
}
