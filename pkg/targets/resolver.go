// Package targets resolves per-account metric targets from an external settings store.
package targets

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// ConfigurationError means an account cannot be evaluated because it has no
// usable targets. Callers skip the account.
type ConfigurationError struct {
	AccountID string
	Reason    string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("account %q: %s: %v", e.AccountID, e.Reason, e.Err)
	}
	return fmt.Sprintf("account %q: %s", e.AccountID, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Resolver turns raw settings into a TargetSet.
type Resolver struct {
	settings SettingsProvider
	logger   *slog.Logger
}

// NewResolver creates a resolver backed by the given settings provider.
func NewResolver(settings SettingsProvider, logger *slog.Logger) *Resolver {
	return &Resolver{settings: settings, logger: logger}
}

// Resolve loads the current targets for accountID. Metrics with missing,
// blank, non-numeric or non-positive values are left out.
func (r *Resolver) Resolve(ctx context.Context, accountID string) (model.TargetSet, error) {
	raw, err := r.settings.GetTargets(ctx, accountID)
	if err != nil {
		return nil, &ConfigurationError{AccountID: accountID, Reason: "load settings", Err: err}
	}

	set := make(model.TargetSet, len(raw))
	for key, value := range raw {
		metric, ok := model.ParseMetric(key)
		if !ok {
			r.logger.Debug("ignoring unknown target metric", "account", accountID, "metric", key)
			continue
		}
		target, ok := ParseTarget(metric, value)
		if !ok {
			continue
		}
		set[metric] = target
	}

	if len(set) == 0 {
		return nil, &ConfigurationError{AccountID: accountID, Reason: "no usable targets"}
	}
	return set, nil
}

// ParseTarget converts one raw target value. The direction defaults to the
// metric's definition and may be overridden by a {value, direction} map.
func ParseTarget(metric model.Metric, raw any) (model.Target, bool) {
	def, ok := model.Lookup(metric)
	if !ok {
		return model.Target{}, false
	}
	target := model.Target{Direction: def.Direction}

	if m, isMap := raw.(map[string]any); isMap {
		if d, ok := m["direction"].(string); ok {
			if dir, ok := model.ParseDirection(d); ok {
				target.Direction = dir
			}
		}
		raw = m["value"]
	}

	v, ok := toNumber(raw)
	if !ok || v <= 0 {
		return model.Target{}, false
	}
	target.Value = v
	return target, true
}

func toNumber(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint64:
		v = float64(n)
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimSuffix(s, "%")
		s = strings.TrimPrefix(s, "¥")
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
