package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ogulcanaydogan/ad-alert-guardian/pkg/model"
)

// SlackNotifier sends alerts to a Slack webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, batch Batch) error {
	payload := slackPayload{
		Channel: s.channel,
		Text:    fmt.Sprintf("%d metric alert(s) for account %s", len(batch.Alerts), batch.AccountID),
	}
	for _, a := range batch.Alerts {
		payload.Attachments = append(payload.Attachments, slackAttachmentFor(a))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func slackAttachmentFor(a model.Alert) slackAttachment {
	color := "#ff9900" // orange
	if a.Severity == model.SeverityCritical {
		color = "#ff0000" // red
	}
	def, _ := model.Lookup(a.Metric)

	fields := []slackField{
		{Title: "Account", Value: a.AccountID, Short: true},
		{Title: "Severity", Value: string(a.Severity), Short: true},
		{Title: "Current", Value: def.Format(a.CurrentValue), Short: true},
		{Title: "Target", Value: def.Format(a.TargetValue), Short: true},
	}
	if len(a.CheckItems) > 0 {
		fields = append(fields, slackField{Title: "Check", Value: "• " + strings.Join(a.CheckItems, "\n• ")})
	}

	return slackAttachment{
		Color:  color,
		Title:  fmt.Sprintf("Ad Alert Guardian: %s %s", a.Metric.Label(), a.Severity),
		Text:   a.Message,
		Fields: fields,
		Footer: "Ad Alert Guardian",
		Ts:     a.Timestamp.Unix(),
	}
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
