package model

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Metric identifies an advertising performance indicator.
type Metric string

const (
	MetricCTR         Metric = "ctr"
	MetricCPM         Metric = "cpm"
	MetricCPA         Metric = "cpa"
	MetricCPC         Metric = "cpc"
	MetricConversions Metric = "conversions"
	MetricBudgetRate  Metric = "budget_rate"
	MetricROAS        Metric = "roas"
	MetricFrequency   Metric = "frequency"
)

// Direction tells which side of a target is healthy.
type Direction string

const (
	HigherBetter Direction = "higher_better" // breach when current < target
	LowerBetter  Direction = "lower_better"  // breach when current > target
)

// ParseDirection accepts the long and short spellings used in settings files.
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "higher_better", "higher", "high":
		return HigherBetter, true
	case "lower_better", "lower", "low":
		return LowerBetter, true
	}
	return "", false
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == HigherBetter || d == LowerBetter
}

type formatKind int

const (
	formatPercent formatKind = iota
	formatWholePercent
	formatCurrency
	formatCount
	formatDecimal
)

// Definition is the single source of truth for a metric's behavior.
type Definition struct {
	Metric    Metric
	Label     string
	Direction Direction
	// Requires names a metric that must be present and > 0 for this one to be computable.
	Requires Metric
	format   formatKind
}

// Format renders a value the way alert messages display it.
func (d Definition) Format(v float64) string {
	switch d.format {
	case formatPercent:
		return fmt.Sprintf("%.1f%%", v)
	case formatWholePercent:
		return fmt.Sprintf("%.0f%%", v)
	case formatCurrency:
		return "¥" + humanize.FormatFloat("#,###.", v)
	case formatCount:
		return humanize.FormatFloat("#,###.", v)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}

// definitions is ordered; evaluation output follows this order.
var definitions = []Definition{
	{Metric: MetricCTR, Label: "CTR", Direction: HigherBetter, format: formatPercent},
	{Metric: MetricCPM, Label: "CPM", Direction: LowerBetter, format: formatCurrency},
	{Metric: MetricCPA, Label: "CPA", Direction: LowerBetter, Requires: MetricConversions, format: formatCurrency},
	{Metric: MetricCPC, Label: "CPC", Direction: LowerBetter, format: formatCurrency},
	{Metric: MetricConversions, Label: "Conversions", Direction: HigherBetter, format: formatCount},
	{Metric: MetricBudgetRate, Label: "Budget utilization", Direction: HigherBetter, format: formatPercent},
	{Metric: MetricROAS, Label: "ROAS", Direction: HigherBetter, format: formatWholePercent},
	{Metric: MetricFrequency, Label: "Frequency", Direction: LowerBetter, format: formatDecimal},
}

var definitionIndex = func() map[Metric]Definition {
	m := make(map[Metric]Definition, len(definitions))
	for _, d := range definitions {
		m[d.Metric] = d
	}
	return m
}()

// Metrics returns every known metric in evaluation order.
func Metrics() []Metric {
	out := make([]Metric, len(definitions))
	for i, d := range definitions {
		out[i] = d.Metric
	}
	return out
}

// Lookup returns the definition of m.
func Lookup(m Metric) (Definition, bool) {
	d, ok := definitionIndex[m]
	return d, ok
}

// ParseMetric maps a settings or snapshot key onto a known metric.
func ParseMetric(s string) (Metric, bool) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	_, ok := definitionIndex[m]
	return m, ok
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	_, ok := definitionIndex[m]
	return ok
}

// Label returns the human readable name, or the raw key for unknown metrics.
func (m Metric) Label() string {
	if d, ok := definitionIndex[m]; ok {
		return d.Label
	}
	return string(m)
}
