// Package payments talks to the card processor: creating fee and deposit
// holds, capturing or cancelling them, and turning signed webhook payloads
// into typed events.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

var (
	ErrInvalidSignature = errors.New("invalid payment webhook signature")
	// ErrRejected wraps 4xx responses: retrying will not help.
	ErrRejected = errors.New("payment processor rejected request")
	// ErrHoldCanceled / ErrHoldCaptured report that the hold already left the
	// authorized state the other way.
	ErrHoldCanceled = errors.New("hold already canceled")
	ErrHoldCaptured = errors.New("hold already captured")
)

// Hold types, carried in metadata so the two holds are never confused.
const (
	HoldTypeFee     = "fee"
	HoldTypeDeposit = "deposit"
)

const (
	metaHoldType      = "hold_type"
	metaListingID     = "listing_id"
	metaBuyerID       = "buyer_id"
	metaSellerID      = "seller_id"
	metaKind          = "kind"
	metaFeeHoldID     = "fee_hold_id"
	metaDepositHoldID = "deposit_hold_id"
	metaPlatformFee   = "platform_fee_cents"
	metaShipping      = "shipping_cents"
	metaDeposit       = "deposit_cents"
	metaRentalDays    = "rental_duration_days"
)

type HoldRequest struct {
	AmountCents         int64
	Currency            string
	Destination         string // seller payout account
	ApplicationFeeCents int64
	ManualCapture       bool
	Description         string
	Metadata            HoldMetadata
	IdempotencyKey      string
}

type Hold struct {
	ID           string
	ClientSecret string
	Status       string
	AmountCents  int64
}

// HoldMetadata links a hold to its listing, parties and sibling hold.
type HoldMetadata struct {
	HoldType           string
	ListingID          uuid.UUID
	BuyerID            uuid.UUID
	SellerID           uuid.UUID
	Kind               string
	FeeHoldID          string
	DepositHoldID      string
	PlatformFeeCents   int64
	ShippingCents      int64
	DepositCents       int64
	RentalDurationDays int
}

func (m HoldMetadata) Encode() map[string]string {
	out := map[string]string{
		metaHoldType:    m.HoldType,
		metaListingID:   m.ListingID.String(),
		metaBuyerID:     m.BuyerID.String(),
		metaSellerID:    m.SellerID.String(),
		metaKind:        m.Kind,
		metaPlatformFee: strconv.FormatInt(m.PlatformFeeCents, 10),
		metaShipping:    strconv.FormatInt(m.ShippingCents, 10),
		metaDeposit:     strconv.FormatInt(m.DepositCents, 10),
		metaRentalDays:  strconv.Itoa(m.RentalDurationDays),
	}
	if m.FeeHoldID != "" {
		out[metaFeeHoldID] = m.FeeHoldID
	}
	if m.DepositHoldID != "" {
		out[metaDepositHoldID] = m.DepositHoldID
	}
	return out
}

// FeeLink is merged into a deposit hold once its fee hold exists.
func FeeLink(feeHoldID string) map[string]string {
	return map[string]string{metaFeeHoldID: feeHoldID}
}

func ParseHoldMetadata(md map[string]string) (HoldMetadata, error) {
	var m HoldMetadata
	var err error

	m.HoldType = md[metaHoldType]
	if m.HoldType != HoldTypeFee && m.HoldType != HoldTypeDeposit {
		return m, fmt.Errorf("unknown hold_type %q", m.HoldType)
	}
	m.Kind = md[metaKind]
	m.FeeHoldID = md[metaFeeHoldID]
	m.DepositHoldID = md[metaDepositHoldID]

	if m.ListingID, err = uuid.Parse(md[metaListingID]); err != nil {
		return m, fmt.Errorf("listing_id: %w", err)
	}
	if m.BuyerID, err = uuid.Parse(md[metaBuyerID]); err != nil {
		return m, fmt.Errorf("buyer_id: %w", err)
	}
	if m.SellerID, err = uuid.Parse(md[metaSellerID]); err != nil {
		return m, fmt.Errorf("seller_id: %w", err)
	}
	if m.PlatformFeeCents, err = parseOptionalInt(md[metaPlatformFee]); err != nil {
		return m, fmt.Errorf("platform_fee_cents: %w", err)
	}
	if m.ShippingCents, err = parseOptionalInt(md[metaShipping]); err != nil {
		return m, fmt.Errorf("shipping_cents: %w", err)
	}
	if m.DepositCents, err = parseOptionalInt(md[metaDeposit]); err != nil {
		return m, fmt.Errorf("deposit_cents: %w", err)
	}
	days, err := parseOptionalInt(md[metaRentalDays])
	if err != nil {
		return m, fmt.Errorf("rental_duration_days: %w", err)
	}
	m.RentalDurationDays = int(days)
	return m, nil
}

func parseOptionalInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Processor is the subset of the card processor the core needs.
type Processor interface {
	CreateHold(ctx context.Context, req HoldRequest) (*Hold, error)
	// LinkHold merges extra metadata into an existing hold.
	LinkHold(ctx context.Context, holdID string, md map[string]string) error
	CancelHold(ctx context.Context, holdID string) error
	CaptureHold(ctx context.Context, holdID string) error
}

// WebhookParser verifies and decodes one processor webhook delivery.
type WebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (Event, error)
}
