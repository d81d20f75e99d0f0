package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/chris-briden/edc-exchange-sub000/internal/config"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/payments"
	"github.com/chris-briden/edc-exchange-sub000/internal/pricing"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ShippingSelection struct {
	RateID      string
	CarrierCost decimal.Decimal
}

type IntentRequest struct {
	ListingID uuid.UUID
	BuyerID   uuid.UUID
	Kind      string // expected listing kind
	Shipping  *ShippingSelection
}

type HoldHandle struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

type IntentResult struct {
	Kind             string      `json:"kind"`
	FeeHold          HoldHandle  `json:"fee_hold"`
	DepositHold      *HoldHandle `json:"deposit_hold,omitempty"`
	BaseCents        int64       `json:"base_cents"`
	ShippingCents    int64       `json:"shipping_cents"`
	GrossCents       int64       `json:"gross_cents"`
	PlatformFeeCents int64       `json:"platform_fee_cents"`
	DepositCents     int64       `json:"deposit_cents"`
	Currency         string      `json:"currency"`
}

// IntentService builds processor holds for a checkout. It never writes a
// transaction: that happens when the fee capture webhook arrives.
type IntentService struct {
	listings  ListingStore
	sellers   SellerStore
	processor payments.Processor
	pricing   *pricing.Engine
	policy    retry.Policy
	cfg       *config.Config
	log       *zap.Logger
}

func NewIntentService(
	listings ListingStore,
	sellers SellerStore,
	processor payments.Processor,
	engine *pricing.Engine,
	policy retry.Policy,
	cfg *config.Config,
	log *zap.Logger,
) *IntentService {
	return &IntentService{
		listings:  listings,
		sellers:   sellers,
		processor: processor,
		pricing:   engine,
		policy:    policy,
		cfg:       cfg,
		log:       log,
	}
}

func (s *IntentService) Build(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if req.ListingID == uuid.Nil {
		return nil, validationf("listing_id is required")
	}
	if req.Kind != models.TransactionKindSale && req.Kind != models.TransactionKindRental {
		return nil, validationf("unknown kind %q", req.Kind)
	}

	listing, err := s.listings.GetByID(ctx, req.ListingID)
	if err != nil {
		return nil, mapNotFound(err, "listing")
	}
	if listing.Status != models.ListingStatusActive {
		return nil, validationf("listing is %s", listing.Status)
	}
	if listing.Kind != req.Kind {
		return nil, validationf("listing is a %s listing, not %s", listing.Kind, req.Kind)
	}
	if req.BuyerID == listing.SellerID {
		return nil, validationf("buyer cannot purchase own listing")
	}

	seller, err := s.sellers.GetSeller(ctx, listing.SellerID)
	if err != nil {
		return nil, mapNotFound(err, "seller")
	}
	if !seller.HasUsablePayoutAccount() {
		return nil, validationf("seller has no usable payout account")
	}

	var base, deposit int64
	var rentalDays int
	switch req.Kind {
	case models.TransactionKindRental:
		if listing.RentalFeeCents == nil || *listing.RentalFeeCents <= 0 {
			return nil, validationf("rental listing has no rental fee")
		}
		base = *listing.RentalFeeCents
		if listing.DepositCents != nil {
			deposit = *listing.DepositCents
		}
		if listing.RentalDurationDays == nil || *listing.RentalDurationDays <= 0 {
			return nil, validationf("rental listing has no rental duration")
		}
		rentalDays = *listing.RentalDurationDays
	default:
		if listing.PriceCents == nil || *listing.PriceCents <= 0 {
			return nil, validationf("sale listing has no price")
		}
		base = *listing.PriceCents
	}

	var shippingCents int64
	if req.Shipping != nil {
		if req.Shipping.CarrierCost.IsNegative() {
			return nil, validationf("carrier cost must not be negative")
		}
		shippingCents = s.pricing.QuoteShipping(req.Shipping.CarrierCost).BuyerPriceCents
	}

	currency := strings.ToLower(listing.Currency)
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	gross := base + shippingCents
	fee := s.pricing.PlatformFee(gross)

	result := &IntentResult{
		Kind:             req.Kind,
		BaseCents:        base,
		ShippingCents:    shippingCents,
		GrossCents:       gross,
		PlatformFeeCents: fee,
		DepositCents:     deposit,
		Currency:         currency,
	}

	meta := payments.HoldMetadata{
		ListingID:          listing.ID,
		BuyerID:            req.BuyerID,
		SellerID:           listing.SellerID,
		Kind:               req.Kind,
		PlatformFeeCents:   fee,
		ShippingCents:      shippingCents,
		DepositCents:       deposit,
		RentalDurationDays: rentalDays,
	}
	key := idempotencyKey(listing.ID, req.BuyerID, gross, deposit, uuid.New())
	destination := *seller.PayoutAccountID

	var depositHold *payments.Hold
	if deposit > 0 {
		depMeta := meta
		depMeta.HoldType = payments.HoldTypeDeposit
		err := callUpstream(ctx, s.policy, "payments", "create_deposit_hold", func(ctx context.Context) error {
			var err error
			depositHold, err = s.processor.CreateHold(ctx, payments.HoldRequest{
				AmountCents:    deposit,
				Currency:       currency,
				Destination:    destination,
				ManualCapture:  true,
				Description:    fmt.Sprintf("Security deposit: %s", listing.Title),
				Metadata:       depMeta,
				IdempotencyKey: "dep-" + key,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: create deposit hold: %v", ErrUpstream, err)
		}
		result.DepositHold = &HoldHandle{ID: depositHold.ID, ClientSecret: depositHold.ClientSecret}
	}

	feeMeta := meta
	feeMeta.HoldType = payments.HoldTypeFee
	if depositHold != nil {
		feeMeta.DepositHoldID = depositHold.ID
	}
	var feeHold *payments.Hold
	err = callUpstream(ctx, s.policy, "payments", "create_fee_hold", func(ctx context.Context) error {
		var err error
		feeHold, err = s.processor.CreateHold(ctx, payments.HoldRequest{
			AmountCents:         gross,
			Currency:            currency,
			Destination:         destination,
			ApplicationFeeCents: fee,
			Description:         listing.Title,
			Metadata:            feeMeta,
			IdempotencyKey:      "fee-" + key,
		})
		return err
	})
	if err != nil {
		if depositHold != nil {
			if cerr := s.processor.CancelHold(ctx, depositHold.ID); cerr != nil {
				s.log.Error("failed to cancel orphaned deposit hold",
					zap.String("deposit_hold_id", depositHold.ID), zap.Error(cerr))
			}
		}
		return nil, fmt.Errorf("%w: create fee hold: %v", ErrUpstream, err)
	}
	result.FeeHold = HoldHandle{ID: feeHold.ID, ClientSecret: feeHold.ClientSecret}

	if depositHold != nil {
		link := payments.FeeLink(feeHold.ID)
		err := callUpstream(ctx, s.policy, "payments", "link_hold", func(ctx context.Context) error {
			return s.processor.LinkHold(ctx, depositHold.ID, link)
		})
		if err != nil {
			// the fee hold already names the deposit hold, so reconciliation still works
			s.log.Error("failed to link deposit hold to fee hold",
				zap.String("deposit_hold_id", depositHold.ID),
				zap.String("fee_hold_id", feeHold.ID),
				zap.Error(err))
		}
	}

	s.log.Info("intent built",
		zap.String("listing_id", listing.ID.String()),
		zap.String("buyer_id", req.BuyerID.String()),
		zap.String("kind", req.Kind),
		zap.Int64("gross_cents", gross),
		zap.Int64("deposit_cents", deposit),
		zap.String("fee_hold_id", feeHold.ID))
	return result, nil
}

// idempotencyKey is scoped to one Build call: retries inside the call reuse
// it, a new checkout attempt gets fresh holds.
func idempotencyKey(listingID, buyerID uuid.UUID, gross, deposit int64, attempt uuid.UUID) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d:%d:%s", listingID, buyerID, gross, deposit, attempt)))
	return hex.EncodeToString(h[:16])
}
