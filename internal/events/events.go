package events

import "context"

// Stream every escrow event is published on.
const StreamEscrow = "events:escrow"

// Event types
const (
	EventEscrowCreated       = "escrow_created"
	EventEscrowStatusChanged = "escrow_status_changed"
	EventEscrowFunded        = "escrow_funded"
	EventEscrowHalted        = "escrow_halted"
	EventEscrowHaltCleared   = "escrow_halt_cleared"
	EventTxConfirmed         = "escrow_tx_confirmed"
	EventDisputeOpened       = "dispute_opened"
	EventEvidenceSubmitted   = "dispute_evidence_submitted"
	EventShipmentRegistered  = "delivery_shipment_registered"
	EventDeliveryVerified    = "delivery_verified"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
