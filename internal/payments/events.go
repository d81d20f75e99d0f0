package payments

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v79"
)

// Event is one of FeeCaptured, DepositAuthorized, DepositCanceled,
// DepositCaptured, FeeRefunded or UnknownEvent.
type Event interface {
	EventID() string
	isPaymentEvent()
}

type FeeCaptured struct {
	ID          string
	HoldID      string
	AmountCents int64
	Currency    string
	Meta        HoldMetadata
}

type DepositAuthorized struct {
	ID        string
	HoldID    string
	FeeHoldID string
}

type DepositCanceled struct {
	ID        string
	HoldID    string
	FeeHoldID string
}

type DepositCaptured struct {
	ID        string
	HoldID    string
	FeeHoldID string
}

type FeeRefunded struct {
	ID     string
	HoldID string
}

// UnknownEvent is anything the core does not act on. Handling it is a no-op.
type UnknownEvent struct {
	ID     string
	Type   string
	Reason string
}

func (e FeeCaptured) EventID() string       { return e.ID }
func (e DepositAuthorized) EventID() string { return e.ID }
func (e DepositCanceled) EventID() string   { return e.ID }
func (e DepositCaptured) EventID() string   { return e.ID }
func (e FeeRefunded) EventID() string       { return e.ID }
func (e UnknownEvent) EventID() string      { return e.ID }

func (FeeCaptured) isPaymentEvent()       {}
func (DepositAuthorized) isPaymentEvent() {}
func (DepositCanceled) isPaymentEvent()   {}
func (DepositCaptured) isPaymentEvent()   {}
func (FeeRefunded) isPaymentEvent()       {}
func (UnknownEvent) isPaymentEvent()      {}

// DecodeEvent maps a verified processor event onto the tagged union.
// Malformed payloads for known types come back as an error; unrecognised
// types come back as UnknownEvent.
func DecodeEvent(ev stripe.Event) (Event, error) {
	if ev.Data == nil {
		return UnknownEvent{ID: ev.ID, Type: string(ev.Type), Reason: "no data"}, nil
	}

	switch string(ev.Type) {
	case "payment_intent.succeeded", "payment_intent.canceled", "payment_intent.amount_capturable_updated":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		return decodeIntentEvent(ev, &pi)

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		if !ch.Refunded || ch.PaymentIntent == nil {
			return UnknownEvent{ID: ev.ID, Type: string(ev.Type), Reason: "partial refund"}, nil
		}
		return FeeRefunded{ID: ev.ID, HoldID: ch.PaymentIntent.ID}, nil
	}

	return UnknownEvent{ID: ev.ID, Type: string(ev.Type)}, nil
}

func decodeIntentEvent(ev stripe.Event, pi *stripe.PaymentIntent) (Event, error) {
	holdType := pi.Metadata[metaHoldType]

	switch holdType {
	case HoldTypeFee:
		if string(ev.Type) != "payment_intent.succeeded" {
			return UnknownEvent{ID: ev.ID, Type: string(ev.Type), Reason: "fee hold not captured"}, nil
		}
		meta, err := ParseHoldMetadata(pi.Metadata)
		if err != nil {
			return nil, fmt.Errorf("fee hold %s metadata: %w", pi.ID, err)
		}
		amount := pi.AmountReceived
		if amount == 0 {
			amount = pi.Amount
		}
		return FeeCaptured{
			ID:          ev.ID,
			HoldID:      pi.ID,
			AmountCents: amount,
			Currency:    string(pi.Currency),
			Meta:        meta,
		}, nil

	case HoldTypeDeposit:
		feeHoldID := pi.Metadata[metaFeeHoldID]
		switch string(ev.Type) {
		case "payment_intent.amount_capturable_updated":
			return DepositAuthorized{ID: ev.ID, HoldID: pi.ID, FeeHoldID: feeHoldID}, nil
		case "payment_intent.canceled":
			return DepositCanceled{ID: ev.ID, HoldID: pi.ID, FeeHoldID: feeHoldID}, nil
		case "payment_intent.succeeded":
			return DepositCaptured{ID: ev.ID, HoldID: pi.ID, FeeHoldID: feeHoldID}, nil
		}
	}

	return UnknownEvent{ID: ev.ID, Type: string(ev.Type), Reason: fmt.Sprintf("hold_type %q", holdType)}, nil
}
