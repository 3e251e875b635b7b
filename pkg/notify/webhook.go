// Package notify delivers outbound notifications for settlement outcomes.
// Delivery is fire-and-forget: a failed notification is logged and dropped,
// never retried into the settlement path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/kausenergy/settlement/pkg/eventbus"
)

// WebhookNotifier posts event payloads to a configured endpoint.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier creates a notifier. An empty url disables delivery.
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "webhook"),
	}
}

// Register subscribes the notifier to the outcome events worth telling the
// outside world about.
func (n *WebhookNotifier) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventSettlementCredited, n.Handle)
	bus.Subscribe(eventbus.EventWithdrawalCompleted, n.Handle)
	bus.Subscribe(eventbus.EventReferralClaimed, n.Handle)
}

type payload struct {
	EventType string    `json:"event_type"`
	SentAt    time.Time `json:"sent_at"`
	Data      any       `json:"data"`
}

// Handle implements eventbus.Handler.
func (n *WebhookNotifier) Handle(ctx context.Context, e eventbus.Event) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(payload{
		EventType: e.EventType(),
		SentAt:    time.Now().UTC(),
		Data:      e,
	})
	if err != nil {
		n.logger.Error("marshaling notification", "event_type", e.EventType(), "error", err)
		return
	}

	// The publisher's context may already be done; deliveries get their own.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("building notification request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("notification delivery failed", "event_type", e.EventType(), "error", err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 300 {
		n.logger.Warn("notification rejected", "event_type", e.EventType(), "status", resp.StatusCode)
	}
}
