// Package pricing turns carrier-quoted shipping costs and item prices into
// buyer-facing amounts and platform take. Everything here is pure.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

type Engine struct {
	MarkupRate decimal.Decimal // e.g. 0.12
	FeeRate    decimal.Decimal // e.g. 0.10
}

func NewEngine(markupRate, feeRate decimal.Decimal) (*Engine, error) {
	if markupRate.IsNegative() {
		return nil, fmt.Errorf("markup rate must be non-negative, got %s", markupRate)
	}
	if feeRate.IsNegative() || feeRate.GreaterThan(one) {
		return nil, fmt.Errorf("fee rate must be within [0, 1], got %s", feeRate)
	}
	return &Engine{MarkupRate: markupRate, FeeRate: feeRate}, nil
}

// BuyerPrice is round2(carrierCost * (1 + markup)).
// decimal.Round rounds half away from zero, which is half-up for the
// non-negative amounts carriers quote.
func (e *Engine) BuyerPrice(carrierCost decimal.Decimal) decimal.Decimal {
	return carrierCost.Mul(one.Add(e.MarkupRate)).Round(2)
}

// PlatformRevenue is what the platform keeps from a marked-up label.
func (e *Engine) PlatformRevenue(carrierCost decimal.Decimal) decimal.Decimal {
	return e.BuyerPrice(carrierCost).Sub(carrierCost)
}

// PlatformFee is round(grossCents * feeRate), in cents.
func (e *Engine) PlatformFee(grossCents int64) int64 {
	return decimal.NewFromInt(grossCents).Mul(e.FeeRate).Round(0).IntPart()
}

// ShippingQuote is the buyer/platform split for one carrier rate, in cents.
type ShippingQuote struct {
	CarrierCostCents     int64
	BuyerPriceCents      int64
	PlatformRevenueCents int64
}

// QuoteShipping rounds cost and buyer price to cents first and takes the
// revenue as their difference, so the three stored amounts always add up.
// For a whole-cent cost this equals ToCents(PlatformRevenue(cost)); for a
// sub-cent cost such as 18.405 it can be one cent lower (220, not 221).
func (e *Engine) QuoteShipping(carrierCost decimal.Decimal) ShippingQuote {
	costCents := ToCents(carrierCost)
	buyerCents := ToCents(e.BuyerPrice(carrierCost))
	return ShippingQuote{
		CarrierCostCents:     costCents,
		BuyerPriceCents:      buyerCents,
		PlatformRevenueCents: buyerCents - costCents,
	}
}

// ToCents converts a currency amount to the smallest unit, rounding
// sub-cent fractions half-up.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ParseAmount parses a provider amount such as "18.40".
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid amount %q: negative", s)
	}
	return d, nil
}
