package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// EventOnboardingCompleted is the event name posted to the webhook.
const EventOnboardingCompleted = "onboarding.completed"

// ErrWebhookURLNotSet is returned when the webhook has no target.
var ErrWebhookURLNotSet = errors.New("webhook URL not set")

// WebhookPayload is the body posted for a completed intake.
type WebhookPayload struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData carries the completed intake with answers rendered as text.
type WebhookData struct {
	SubjectID   string            `json:"subject_id"`
	TenantID    string            `json:"tenant_id"`
	SubjectHint string            `json:"subject_hint,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
	Answers     map[string]string `json:"answers"`
	Skipped     []string          `json:"skipped"`
}

// WebhookClient posts completion events to an automation webhook.
type WebhookClient struct {
	url  string
	http *http.Client
}

// NewWebhookClient creates a webhook client. A nil httpClient uses a 30s timeout.
func NewWebhookClient(url string, httpClient *http.Client) (*WebhookClient, error) {
	if url == "" {
		return nil, ErrWebhookURLNotSet
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebhookClient{url: url, http: httpClient}, nil
}

// NewWebhookPayload renders ev for the webhook.
func NewWebhookPayload(ev models.CompletionEvent) WebhookPayload {
	data := WebhookData{
		SubjectID:   ev.SubjectID,
		TenantID:    ev.TenantID,
		SubjectHint: ev.SubjectHint,
		CompletedAt: ev.CompletedAt,
		Answers:     make(map[string]string, len(ev.Answers)),
		Skipped:     []string{},
	}
	for field, v := range ev.Answers {
		if models.IsSkipped(v) {
			data.Skipped = append(data.Skipped, field)
			continue
		}
		data.Answers[field] = models.RenderAnswer(v)
	}
	return WebhookPayload{Event: EventOnboardingCompleted, Data: data}
}

// Deliver posts the completion event. Any non-2xx status is an error.
func (w *WebhookClient) Deliver(ctx context.Context, ev models.CompletionEvent) error {
	body, err := json.Marshal(NewWebhookPayload(ev))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		slog.Error("WebhookClient.Deliver: request failed", "subjectID", ev.SubjectID, "error", err)
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	slog.Info("WebhookClient.Deliver: webhook accepted", "subjectID", ev.SubjectID, "status", resp.StatusCode)
	return nil
}
