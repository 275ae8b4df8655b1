// Package evaluator compares metric snapshots with targets and produces
// candidate alerts. Everything here is a pure function of its inputs.
package evaluator

import (
	"fmt"
	"math"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// DefaultCriticalDeviation is the relative deviation from target above which
// a breach is graded critical. It applies to every metric.
const DefaultCriticalDeviation = 0.3

// Policy holds the grading parameters.
type Policy struct {
	CriticalDeviation float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{CriticalDeviation: DefaultCriticalDeviation}
}

// ShouldAlert reports whether current breaches target in the given direction.
func ShouldAlert(current, target float64, dir model.Direction) bool {
	switch dir {
	case model.HigherBetter:
		return current < target
	case model.LowerBetter:
		return current > target
	default:
		return false
	}
}

// Deviation is |current-target|/target.
func Deviation(current, target float64) float64 {
	if target == 0 {
		return math.Inf(1)
	}
	return math.Abs(current-target) / target
}

// Grade assigns a severity to a breach.
func (p Policy) Grade(metric model.Metric, current, target float64) model.Severity {
	if metric == model.MetricConversions && current == 0 {
		return model.SeverityCritical
	}
	if Deviation(current, target) > p.CriticalDeviation {
		return model.SeverityCritical
	}
	return model.SeverityWarning
}

// Evaluate returns one candidate per breached metric, in metric table order.
// Metrics that are absent from either input, or not computable, never alert.
func Evaluate(accountID string, snapshot model.Snapshot, targets model.TargetSet, policy Policy, rules Rules) []model.Candidate {
	var candidates []model.Candidate

	for _, metric := range model.Metrics() {
		target, ok := targets[metric]
		if !ok || target.Value <= 0 {
			continue
		}
		current, ok := computable(snapshot, metric)
		if !ok {
			continue
		}
		if !ShouldAlert(current, target.Value, target.Direction) {
			continue
		}

		severity := policy.Grade(metric, current, target.Value)
		rule := rules.For(metric)
		candidates = append(candidates, model.Candidate{
			AccountID:    accountID,
			Metric:       metric,
			TargetValue:  target.Value,
			CurrentValue: current,
			Direction:    target.Direction,
			Severity:     severity,
			Message:      Message(metric, current, target.Value, target.Direction, severity),
			CheckItems:   rule.CheckItems.Clone(),
			Improvements: rule.Improvements.Clone(),
		})
	}

	return candidates
}

func computable(snapshot model.Snapshot, metric model.Metric) (float64, bool) {
	v, ok := snapshot.Value(metric)
	if !ok {
		return 0, false
	}
	def, _ := model.Lookup(metric)
	if def.Requires != "" {
		base, ok := snapshot.Value(def.Requires)
		if !ok || base <= 0 {
			return 0, false
		}
	}
	return v, true
}

// Message renders the alert text. It depends only on its arguments.
func Message(metric model.Metric, current, target float64, dir model.Direction, severity model.Severity) string {
	def, _ := model.Lookup(metric)
	side := "above"
	if dir == model.HigherBetter {
		side = "below"
	}
	return fmt.Sprintf("[%s] %s %s is %s target %s (%.0f%% off)",
		severity, metric.Label(), def.Format(current), side, def.Format(target),
		Deviation(current, target)*100)
}
