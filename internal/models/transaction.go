package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Transaction kinds
const (
	TransactionKindSale   = "sale"
	TransactionKindRental = "rental"
)

// Transaction statuses
const (
	TransactionStatusPaid      = "paid"
	TransactionStatusShipped   = "shipped"
	TransactionStatusDelivered = "delivered"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCanceled  = "canceled"
)

// Rental sub-statuses. Only set on rental transactions.
const (
	RentalSubStatusActive          = "active"
	RentalSubStatusReturned        = "returned"
	RentalSubStatusDepositCaptured = "deposit_captured"
	RentalSubStatusDepositReleased = "deposit_released"
)

var ValidTransactionTransitions = map[string][]string{
	TransactionStatusPaid:      {TransactionStatusShipped, TransactionStatusDelivered, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCanceled},
	TransactionStatusShipped:   {TransactionStatusDelivered, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCanceled},
	TransactionStatusDelivered: {TransactionStatusCompleted},
	TransactionStatusCompleted: {},
	TransactionStatusFailed:    {},
	TransactionStatusCanceled:  {},
}

// returned is the claim taken by the release path: it leaves the sweep
// predicate immediately, and can still be finalised either way because the
// processor decides which of cancel/capture lands.
var ValidDepositTransitions = map[string][]string{
	RentalSubStatusActive:          {RentalSubStatusReturned, RentalSubStatusDepositReleased, RentalSubStatusDepositCaptured},
	RentalSubStatusReturned:        {RentalSubStatusDepositReleased, RentalSubStatusDepositCaptured},
	RentalSubStatusDepositReleased: {},
	RentalSubStatusDepositCaptured: {},
}

func IsValidTransactionTransition(from, to string) bool {
	return containsTransition(ValidTransactionTransitions, from, to)
}

func IsValidDepositTransition(from, to string) bool {
	return containsTransition(ValidDepositTransitions, from, to)
}

// TransactionSourcesFor lists every status from which to is reachable.
// Repositories use it to build the guard of a conditional UPDATE.
func TransactionSourcesFor(to string) []string {
	return sourcesFor(ValidTransactionTransitions, to)
}

func DepositSourcesFor(to string) []string {
	return sourcesFor(ValidDepositTransitions, to)
}

func IsTerminalDeposit(subStatus string) bool {
	return subStatus == RentalSubStatusDepositReleased || subStatus == RentalSubStatusDepositCaptured
}

type Transaction struct {
	ID                 uuid.UUID  `json:"id"`
	ListingID          uuid.UUID  `json:"listing_id"`
	BuyerID            uuid.UUID  `json:"buyer_id"`
	SellerID           uuid.UUID  `json:"seller_id"`
	Kind               string     `json:"kind"`
	AmountCents        int64      `json:"amount_cents"` // gross charged on the fee hold
	PlatformFeeCents   int64      `json:"platform_fee_cents"`
	ShippingCents      int64      `json:"shipping_cents"`
	DepositCents       int64      `json:"deposit_cents"`
	Currency           string     `json:"currency"`
	FeeHoldID          string     `json:"fee_hold_id"`
	DepositHoldID      *string    `json:"deposit_hold_id,omitempty"`
	Status             string     `json:"status"`
	RentalSubStatus    *string    `json:"rental_sub_status,omitempty"`
	RentalDurationDays int        `json:"rental_duration_days"`
	PaidAt             time.Time  `json:"paid_at"`
	DepositResolvedAt  *time.Time `json:"deposit_resolved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (t *Transaction) IsRental() bool {
	return t.Kind == TransactionKindRental
}

func (t *Transaction) SubStatus() string {
	if t.RentalSubStatus == nil {
		return ""
	}
	return *t.RentalSubStatus
}

// DepositOverdue reports whether an unreturned rental has passed its grace
// deadline: outbound delivery + rental duration + grace days, strictly before now.
func DepositOverdue(outboundDeliveredAt time.Time, rentalDays, graceDays int, now time.Time) bool {
	deadline := outboundDeliveredAt.AddDate(0, 0, rentalDays+graceDays)
	return deadline.Before(now)
}

func containsTransition(table map[string][]string, from, to string) bool {
	allowed, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func sourcesFor(table map[string][]string, to string) []string {
	var from []string
	for status, allowed := range table {
		for _, s := range allowed {
			if s == to {
				from = append(from, status)
				break
			}
		}
	}
	sort.Strings(from)
	return from
}
