// Package telemetry defines the Prometheus metrics of the alert engine.
//
// Metric naming follows Prometheus conventions:
//   - aag_ prefix for all metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// AccountRunsTotal counts per-account runs by status and reason.
	AccountRunsTotal *prometheus.CounterVec
	// RunDurationSeconds observes the duration of executed account runs.
	RunDurationSeconds prometheus.Histogram
	// AlertTransitionsTotal counts lifecycle transitions by kind and metric.
	AlertTransitionsTotal *prometheus.CounterVec
	// NotificationsTotal counts notifier deliveries by notifier and result.
	NotificationsTotal *prometheus.CounterVec
	// GuardSkipsTotal counts execution guard skips by task and reason.
	GuardSkipsTotal *prometheus.CounterVec
	// ScheduledJobsTotal counts scheduler job executions by job and result.
	ScheduledJobsTotal *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AccountRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aag_account_runs_total",
				Help: "Total number of per-account alert runs by status and reason.",
			},
			[]string{"status", "reason"},
		),
		RunDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aag_account_run_duration_seconds",
				Help:    "Duration of executed per-account alert runs in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
		),
		AlertTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aag_alert_transitions_total",
				Help: "Total alert lifecycle transitions by kind and metric.",
			},
			[]string{"kind", "metric"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aag_notifications_total",
				Help: "Total notification deliveries by notifier and result.",
			},
			[]string{"notifier", "result"},
		),
		GuardSkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aag_guard_skips_total",
				Help: "Total guarded runs skipped by task and reason.",
			},
			[]string{"task", "reason"},
		),
		ScheduledJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aag_scheduled_jobs_total",
				Help: "Total scheduled job executions by job and result.",
			},
			[]string{"job", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.AccountRunsTotal,
			m.RunDurationSeconds,
			m.AlertTransitionsTotal,
			m.NotificationsTotal,
			m.GuardSkipsTotal,
			m.ScheduledJobsTotal,
		)
	}
	return m
}

// RecordAccountRun counts one account run.
func (m *Metrics) RecordAccountRun(status, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AccountRunsTotal.WithLabelValues(status, reason).Inc()
	if status == "executed" {
		m.RunDurationSeconds.Observe(elapsed.Seconds())
	}
}

// RecordTransition counts n transitions of one kind for a metric.
func (m *Metrics) RecordTransition(kind, metric string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AlertTransitionsTotal.WithLabelValues(kind, metric).Add(float64(n))
}

// RecordNotification counts a notifier delivery.
func (m *Metrics) RecordNotification(notifier string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.NotificationsTotal.WithLabelValues(notifier, result).Inc()
}

// RecordGuardSkip counts a guard skip.
func (m *Metrics) RecordGuardSkip(task, reason string) {
	if m == nil {
		return
	}
	m.GuardSkipsTotal.WithLabelValues(task, reason).Inc()
}

// RecordJob counts a scheduler job run.
func (m *Metrics) RecordJob(job string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ScheduledJobsTotal.WithLabelValues(job, result).Inc()
}
