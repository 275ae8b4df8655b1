package model

import (
	"math"
	"time"
)

// Target is the threshold configured for one metric.
type Target struct {
	Value     float64   `json:"value" yaml:"value"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// TargetSet maps metrics to their resolved targets for one account.
type TargetSet map[Metric]Target

// Snapshot holds the metric values captured for an account at one point in time.
// A missing key means the metric could not be computed.
type Snapshot struct {
	AccountID string             `json:"account_id" yaml:"account_id"`
	AsOf      time.Time          `json:"as_of" yaml:"as_of"`
	Values    map[Metric]float64 `json:"values" yaml:"values"`
}

// Value returns the metric value when it is present and finite.
func (s Snapshot) Value(m Metric) (float64, bool) {
	v, ok := s.Values[m]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Severity grades how far a metric is from its target.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Candidate is an evaluator finding that has not been reconciled against history yet.
type Candidate struct {
	AccountID    string       `json:"account_id"`
	Metric       Metric       `json:"metric"`
	TargetValue  float64      `json:"target_value"`
	CurrentValue float64      `json:"current_value"`
	Direction    Direction    `json:"direction"`
	Severity     Severity     `json:"severity"`
	Message      string       `json:"message"`
	CheckItems   StringList   `json:"check_items"`
	Improvements Improvements `json:"improvements"`
}

// Alert is a persisted breach record.
type Alert struct {
	ID           string       `json:"id" db:"id"`
	AccountID    string       `json:"account_id" db:"account_id"`
	Metric       Metric       `json:"metric" db:"metric"`
	TargetValue  float64      `json:"target_value" db:"target_value"`
	CurrentValue float64      `json:"current_value" db:"current_value"`
	Direction    Direction    `json:"direction" db:"direction"`
	Severity     Severity     `json:"severity" db:"severity"`
	Message      string       `json:"message" db:"message"`
	Status       Status       `json:"status" db:"status"`
	CheckItems   StringList   `json:"check_items" db:"check_items"`
	Improvements Improvements `json:"improvements" db:"improvements"`
	// Timestamp is when the alert was last raised: creation or the latest update that kept it active.
	Timestamp     time.Time  `json:"timestamp" db:"timestamp"`
	FirstRaisedAt time.Time  `json:"first_raised_at" db:"first_raised_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsActive reports whether the alert still represents an open breach.
func (a *Alert) IsActive() bool {
	return a.Status == StatusActive
}

// LastTouched is the latest of Timestamp and ResolvedAt.
func (a *Alert) LastTouched() time.Time {
	if a.ResolvedAt != nil && a.ResolvedAt.After(a.Timestamp) {
		return *a.ResolvedAt
	}
	return a.Timestamp
}

// Normalize replaces nil diagnostic payloads with empty ones so encoders
// always emit arrays.
func (a *Alert) Normalize() {
	a.CheckItems = a.CheckItems.Normalize()
	a.Improvements = a.Improvements.Normalize()
}

// ExecState is the state of an execution bucket.
type ExecState string

const (
	ExecRunning   ExecState = "running"
	ExecCompleted ExecState = "completed"
)

// ExecutionRecord marks a task run inside one time bucket.
type ExecutionRecord struct {
	Key         string    `json:"key" db:"key"`
	State       ExecState `json:"state" db:"state"`
	Owner       string    `json:"owner,omitempty" db:"owner"`
	StartedAt   time.Time `json:"started_at" db:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// DayBounds returns the start and end of the calendar day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (start, end time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	start = time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1)
	return start, end
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	start, end := DayBounds(a, loc)
	return !b.Before(start) && b.Before(end)
}
