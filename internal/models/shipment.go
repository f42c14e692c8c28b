package models

import "time"

// Delivery statuses reported by a carrier tracker.
const (
	DeliveryPending   = "pending"
	DeliveryInTransit = "in_transit"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
	DeliveryUnknown   = "unknown"
)

func IsValidDeliveryStatus(s string) bool {
	switch s {
	case DeliveryPending, DeliveryInTransit, DeliveryDelivered, DeliveryFailed, DeliveryUnknown:
		return true
	}
	return false
}

// Shipment is the seller's tracking registration and the last carrier report
// seen for it. ProofHash is set once the carrier reports delivery.
type Shipment struct {
	Carrier      string     `json:"carrier"`
	TrackingCode string     `json:"tracking_code"`
	Status       string     `json:"status"`
	Details      string     `json:"details,omitempty"`
	ProofHash    string     `json:"proof_hash,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	CheckedAt    *time.Time `json:"checked_at,omitempty"`
}

func (s *Shipment) Clone() *Shipment {
	if s == nil {
		return nil
	}
	c := *s
	if s.CheckedAt != nil {
		t := *s.CheckedAt
		c.CheckedAt = &t
	}
	return &c
}
