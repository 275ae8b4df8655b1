package telemetry_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/ad-alert-guardian/internal/telemetry"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(reg)

	m.RecordAccountRun("executed", "", 200*time.Millisecond)
	m.RecordAccountRun("skipped", "already_running", 0)
	m.RecordTransition("created", "ctr", 2)
	m.RecordTransition("resolved", "ctr", 0)
	m.RecordNotification("slack", nil)
	m.RecordNotification("slack", errors.New("down"))
	m.RecordGuardSkip("alert-check", "already_completed")
	m.RecordJob("sweep", nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccountRunsTotal.WithLabelValues("executed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AccountRunsTotal.WithLabelValues("skipped", "already_running")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertTransitionsTotal.WithLabelValues("created", "ctr")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AlertTransitionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("slack", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsTotal.WithLabelValues("slack", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardSkipsTotal.WithLabelValues("alert-check", "already_completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScheduledJobsTotal.WithLabelValues("sweep", "success")))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP aag_account_run_duration_seconds Duration of executed per-account alert runs in seconds.
# TYPE aag_account_run_duration_seconds histogram
aag_account_run_duration_seconds_bucket{le="0.01"} 0
aag_account_run_duration_seconds_bucket{le="0.05"} 0
aag_account_run_duration_seconds_bucket{le="0.1"} 0
aag_account_run_duration_seconds_bucket{le="0.5"} 1
aag_account_run_duration_seconds_bucket{le="1"} 1
aag_account_run_duration_seconds_bucket{le="5"} 1
aag_account_run_duration_seconds_bucket{le="15"} 1
aag_account_run_duration_seconds_bucket{le="60"} 1
aag_account_run_duration_seconds_bucket{le="+Inf"} 1
aag_account_run_duration_seconds_sum 0.2
aag_account_run_duration_seconds_count 1
`), "aag_account_run_duration_seconds")
	require.NoError(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *telemetry.Metrics
	assert.NotPanics(t, func() {
		m.RecordAccountRun("executed", "", time.Second)
		m.RecordTransition("created", "ctr", 1)
		m.RecordNotification("slack", nil)
		m.RecordGuardSkip("alert-check", "already_running")
		m.RecordJob("prune", nil)
	})
}
