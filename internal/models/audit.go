package models

import (
	"time"

	"github.com/google/uuid"
)

// Actor types
const (
	ActorUser     = "user"
	ActorMediator = "mediator"
	ActorSystem   = "system"
	ActorOperator = "operator"
)

type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	ActorID    *string    `json:"actor_id,omitempty"`
	ActorType  string     `json:"actor_type"` // user/mediator/system/operator
	Action     string     `json:"action"`
	EntityType string     `json:"entity_type"`
	EntityID   *uuid.UUID `json:"entity_id,omitempty"`
	Meta       any        `json:"meta,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
