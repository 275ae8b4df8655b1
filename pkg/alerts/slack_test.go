package alerts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/alerts"
	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

func sampleBatch(severity model.Severity) alerts.Batch {
	now := time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)
	return alerts.Batch{
		AccountID:   "acct-1",
		GeneratedAt: now,
		Alerts: []model.Alert{{
			ID:            "alert_1",
			AccountID:     "acct-1",
			Metric:        model.MetricCTR,
			TargetValue:   1.0,
			CurrentValue:  0.6,
			Direction:     model.HigherBetter,
			Severity:      severity,
			Message:       "[warning] CTR 0.6% is below target 1.0% (40% off)",
			Status:        model.StatusActive,
			CheckItems:    model.StringList{"Creative fatigue"},
			Improvements:  model.Improvements{},
			Timestamp:     now,
			FirstRaisedAt: now,
		}},
	}
}

func TestSlackNotifier_Name(t *testing.T) {
	n := alerts.NewSlackNotifier("https://hooks.slack.com/test", "#test")
	assert.Equal(t, "slack", n.Name())
}

func TestSlackNotifier_Send(t *testing.T) {
	var received struct {
		Channel     string `json:"channel"`
		Text        string `json:"text"`
		Attachments []struct {
			Color  string `json:"color"`
			Title  string `json:"title"`
			Text   string `json:"text"`
			Fields []struct {
				Title string `json:"title"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"attachments"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodPost, r.Method)

		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := alerts.NewSlackNotifier(server.URL, "#ad-alerts")

	err := n.Send(context.Background(), sampleBatch(model.SeverityWarning))
	require.NoError(t, err)
	assert.Equal(t, "#ad-alerts", received.Channel)
	assert.Contains(t, received.Text, "acct-1")
	require.Len(t, received.Attachments, 1)
	att := received.Attachments[0]
	assert.Equal(t, "#ff9900", att.Color)
	assert.Contains(t, att.Title, "CTR")
	assert.Contains(t, att.Text, "0.6%")

	values := map[string]string{}
	for _, f := range att.Fields {
		values[f.Title] = f.Value
	}
	assert.Equal(t, "0.6%", values["Current"])
	assert.Equal(t, "1.0%", values["Target"])
	assert.Contains(t, values["Check"], "Creative fatigue")
}

func TestSlackNotifier_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := alerts.NewSlackNotifier(server.URL, "#test")
	err := n.Send(context.Background(), sampleBatch(model.SeverityWarning))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestSlackNotifier_SeverityColors(t *testing.T) {
	tests := []struct {
		severity model.Severity
		color    string
	}{
		{model.SeverityWarning, "#ff9900"},
		{model.SeverityCritical, "#ff0000"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			var received map[string]any
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			n := alerts.NewSlackNotifier(server.URL, "#test")
			require.NoError(t, n.Send(context.Background(), sampleBatch(tt.severity)))

			atts := received["attachments"].([]any)
			assert.Equal(t, tt.color, atts[0].(map[string]any)["color"])
		})
	}
}
