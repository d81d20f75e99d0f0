package models

import (
	"time"

	"github.com/google/uuid"
)

// Audited entities.
const (
	EntityTransaction = "transaction"
	EntityShipment    = "shipment"
	EntityListing     = "listing"
)

const (
	ActorUser   = "user"
	ActorAdmin  = "admin"
	ActorSystem = "system" // webhooks, sweep, poller
)

// AuditLog is one append-only history row. Action names the transition,
// e.g. "shipment_status_to_delivered" or "deposit_returned_to_deposit_released".
type AuditLog struct {
	ID          uuid.UUID      `json:"id"`
	ActorUserID *uuid.UUID     `json:"actor_user_id,omitempty"`
	ActorType   string         `json:"actor_type"`
	Action      string         `json:"action"`
	EntityType  string         `json:"entity_type"`
	EntityID    *uuid.UUID     `json:"entity_id,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
