// Package notify forwards escrow events to an external webhook, which turns
// them into user-facing notifications.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/paybyt/escrowd/internal/apperr"
	"github.com/paybyt/escrowd/internal/events"
	"github.com/paybyt/escrowd/internal/retry"
	"go.uber.org/zap"
)

// Notification is the webhook body. Recipients are the parties the event
// concerns.
type Notification struct {
	Type       string         `json:"type"`
	EscrowID   string         `json:"escrow_id,omitempty"`
	Recipients []string       `json:"recipients"`
	Text       string         `json:"text"`
	Payload    map[string]any `json:"payload"`
}

type Forwarder struct {
	url    string
	client *http.Client
	policy retry.Policy
	log    *zap.Logger
}

func NewForwarder(url string, timeout time.Duration, policy retry.Policy, log *zap.Logger) *Forwarder {
	return &Forwarder{
		url:    url,
		client: &http.Client{Timeout: timeout},
		policy: policy,
		log:    log,
	}
}

// Handle is an events.Subscriber handler. Delivery failures are logged and
// dropped.
func (f *Forwarder) Handle(ctx context.Context) func(events.Event) {
	return func(e events.Event) {
		n, ok := Build(e)
		if !ok {
			return
		}
		if err := f.Send(ctx, n); err != nil {
			f.log.Warn("failed to forward notification",
				zap.String("type", n.Type),
				zap.String("escrow_id", n.EscrowID),
				zap.Error(err),
			)
		}
	}
}

// Send posts n, retrying on transport errors and 5xx responses.
func (f *Forwarder) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return f.policy.Do(ctx, "notify", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrNetwork, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: webhook status %d", apperr.ErrNetwork, resp.StatusCode)
		case resp.StatusCode >= 300:
			return fmt.Errorf("webhook status %d", resp.StatusCode)
		}
		return nil
	})
}

// Build turns an event into a notification. Events that name no party are
// skipped.
func Build(e events.Event) (Notification, bool) {
	n := Notification{Type: e.Type, Payload: e.Payload}
	if id, ok := e.Payload["escrow_id"].(string); ok {
		n.EscrowID = id
	}
	for _, k := range []string{"buyer_id", "seller_id"} {
		if v, ok := e.Payload[k].(string); ok && v != "" {
			n.Recipients = append(n.Recipients, v)
		}
	}
	if len(n.Recipients) == 0 {
		return n, false
	}
	n.Text = text(e)
	return n, true
}

func text(e events.Event) string {
	switch e.Type {
	case events.EventEscrowCreated:
		return "Escrow created. Waiting for the buyer to fund the escrow address."
	case events.EventEscrowFunded:
		return "Escrow funded."
	case events.EventEscrowStatusChanged:
		if to, ok := e.Payload["new_status"].(string); ok {
			return fmt.Sprintf("Escrow status changed to %s.", to)
		}
		return "Escrow status changed."
	case events.EventDisputeOpened:
		return "A dispute was opened on your escrow."
	case events.EventEvidenceSubmitted:
		return "New evidence was submitted to the dispute."
	case events.EventShipmentRegistered:
		return "The seller registered a tracking code for your order."
	case events.EventDeliveryVerified:
		return "The carrier confirmed delivery."
	case events.EventTxConfirmed:
		return "Payout transaction confirmed."
	case events.EventEscrowHalted:
		return "Escrow paused pending operator review."
	case events.EventEscrowHaltCleared:
		return "Escrow processing resumed."
	}
	return fmt.Sprintf("Event: %s", e.Type)
}
