package events

import (
	"context"
	"time"
)

// TransactionStream is the single channel the notification bridge listens on.
const TransactionStream = "events:transaction"

// Event types
const (
	EventListingSold           = "listing_sold"
	EventTransactionPaid       = "transaction_paid"
	EventTransactionStatus     = "transaction_status_changed"
	EventLabelPurchased        = "label_purchased"
	EventReturnLabelFailed     = "return_label_failed"
	EventReturnLabelVoided     = "return_label_voided"
	EventShipmentStatusChanged = "shipment_status_changed"
	EventDepositReleased       = "deposit_released"
	EventDepositCaptured       = "deposit_captured"
	EventDepositActionFailed   = "deposit_action_failed"
)

type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
