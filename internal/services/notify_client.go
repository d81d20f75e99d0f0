package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/metrics"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"go.uber.org/zap"
)

var errDispatcherRejected = errors.New("notification dispatcher rejected event")

// NotifyClient forwards transaction events to the notification dispatcher,
// which owns templates and delivery.
type NotifyClient struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	log        *zap.Logger
}

func NewNotifyClient(baseURL string, timeout time.Duration, policy retry.Policy, log *zap.Logger) *NotifyClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &NotifyClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		log:        log,
	}
}

type notification struct {
	EventID    string         `json:"event_id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

// Forward posts one event. 5xx and transport errors are retried under the
// policy; a 4xx is final. The event id doubles as the idempotency key.
func (c *NotifyClient) Forward(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(notification{
		EventID:    event.ID,
		Type:       event.Type,
		OccurredAt: event.OccurredAt,
		Payload:    event.Payload,
	})
	if err != nil {
		return err
	}

	err = c.policy.Do(ctx, func(ctx context.Context) error {
		return c.post(ctx, event.ID, body)
	})
	metrics.UpstreamCalls.WithLabelValues("notifications", "forward", metrics.Outcome(err)).Inc()
	if err != nil {
		c.log.Warn("failed to forward notification",
			zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
	}
	return err
}

func (c *NotifyClient) post(ctx context.Context, eventID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notify", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if eventID != "" {
		req.Header.Set("Idempotency-Key", eventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification dispatcher unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err = fmt.Errorf("notification dispatcher returned %d: %s", resp.StatusCode, string(b))
	if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return retry.Permanent(fmt.Errorf("%w: %v", errDispatcherRejected, err))
	}
	return err
}
