package models

import "github.com/google/uuid"

// Listing statuses. Listings are owned by the catalog service; this core only
// reads them and flips active -> sold once a sale is paid.
const (
	ListingStatusActive   = "active"
	ListingStatusSold     = "sold"
	ListingStatusInactive = "inactive"
)

type Listing struct {
	ID                 uuid.UUID `json:"id"`
	SellerID           uuid.UUID `json:"seller_id"`
	Title              string    `json:"title"`
	Kind               string    `json:"kind"` // sale / rental
	Status             string    `json:"status"`
	PriceCents         *int64    `json:"price_cents,omitempty"`
	RentalFeeCents     *int64    `json:"rental_fee_cents,omitempty"`
	DepositCents       *int64    `json:"deposit_cents,omitempty"`
	RentalDurationDays *int      `json:"rental_duration_days,omitempty"`
	Currency           string    `json:"currency"`
}

type Seller struct {
	ID              uuid.UUID `json:"id"`
	PayoutAccountID *string   `json:"payout_account_id,omitempty"`
	PayoutsEnabled  bool      `json:"payouts_enabled"`
}

func (s *Seller) HasUsablePayoutAccount() bool {
	return s.PayoutAccountID != nil && *s.PayoutAccountID != "" && s.PayoutsEnabled
}
