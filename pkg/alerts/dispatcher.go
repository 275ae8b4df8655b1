package alerts

import (
	"context"
	"log/slog"
)

// Delivery is the outcome of one notifier for one batch.
type Delivery struct {
	Notifier string
	Err      error
}

// Dispatcher fans a batch out to every notifier exactly once. There are no
// retries: a failed delivery is logged and reported, never repeated.
type Dispatcher struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(logger *slog.Logger, notifiers ...Notifier) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{notifiers: notifiers, logger: logger}
}

// Notifiers returns the names of the configured notifiers.
func (d *Dispatcher) Notifiers() []string {
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Dispatch sends batch to each notifier. Empty batches are not sent.
func (d *Dispatcher) Dispatch(ctx context.Context, batch Batch) []Delivery {
	if d == nil || len(batch.Alerts) == 0 {
		return nil
	}

	deliveries := make([]Delivery, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		err := n.Send(ctx, batch)
		if err != nil {
			d.logger.Error("alert notification failed",
				"notifier", n.Name(),
				"account", batch.AccountID,
				"alerts", len(batch.Alerts),
				"error", err,
			)
		} else {
			d.logger.Info("alert notification sent",
				"notifier", n.Name(),
				"account", batch.AccountID,
				"alerts", len(batch.Alerts),
			)
		}
		deliveries = append(deliveries, Delivery{Notifier: n.Name(), Err: err})
	}
	return deliveries
}
