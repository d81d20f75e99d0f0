package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/metrics"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/pricing"
	"github.com/chris-briden/edc-exchange-sub000/internal/rbac"
	"github.com/chris-briden/edc-exchange-sub000/internal/repositories"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LabelRequest struct {
	ShipmentType        string
	TransactionID       *uuid.UUID
	OutboundShipmentID  *uuid.UUID // for rental_return purchases
	RateID              string
	ExternalShipmentID  string
	CarrierCost         decimal.Decimal
	Carrier             string
	SenderID            uuid.UUID
	RecipientID         uuid.UUID
	From                models.Address
	To                  models.Address
	Parcel              models.Parcel
	GenerateReturnLabel bool
}

type LabelSummary struct {
	ShipmentID           uuid.UUID `json:"shipment_id"`
	ShipmentType         string    `json:"shipment_type"`
	Carrier              string    `json:"carrier"`
	TrackingNumber       string    `json:"tracking_number"`
	TrackingURL          string    `json:"tracking_url"`
	LabelURL             string    `json:"label_url"`
	CarrierCostCents     int64     `json:"carrier_cost_cents"`
	PayerPriceCents      int64     `json:"payer_price_cents"`
	PlatformRevenueCents int64     `json:"platform_revenue_cents"`
	Payer                string    `json:"payer"`
	Status               string    `json:"status"`
}

type LabelResult struct {
	Outbound         *LabelSummary `json:"outbound,omitempty"`
	Return           *LabelSummary `json:"return,omitempty"`
	ReturnLabelError string        `json:"return_label_error,omitempty"`
}

func summarize(s *models.Shipment) *LabelSummary {
	return &LabelSummary{
		ShipmentID:           s.ID,
		ShipmentType:         s.ShipmentType,
		Carrier:              s.Carrier,
		TrackingNumber:       s.TrackingNumber,
		TrackingURL:          s.TrackingURL,
		LabelURL:             s.LabelURL,
		CarrierCostCents:     s.CarrierCostCents,
		PayerPriceCents:      s.PayerPriceCents,
		PlatformRevenueCents: s.PlatformRevenueCents,
		Payer:                s.Payer,
		Status:               s.Status,
	}
}

// LabelService buys, pairs and voids shipping labels. A bought label is
// money spent: failures after purchase are logged for remediation and
// never rolled back.
type LabelService struct {
	txRepo       TransactionStore
	shipmentRepo ShipmentStore
	provider     LabelProvider
	pricing      *pricing.Engine
	rec          recorder
	policy       retry.Policy
	log          *zap.Logger
}

func NewLabelService(
	txRepo TransactionStore,
	shipmentRepo ShipmentStore,
	auditRepo AuditStore,
	provider LabelProvider,
	engine *pricing.Engine,
	publisher events.Publisher,
	policy retry.Policy,
	log *zap.Logger,
) *LabelService {
	return &LabelService{
		txRepo:       txRepo,
		shipmentRepo: shipmentRepo,
		provider:     provider,
		pricing:      engine,
		rec:          recorder{audit: auditRepo, publisher: publisher, log: log},
		policy:       policy,
		log:          log,
	}
}

// Purchase handles POST /labels: an outbound label with an optional paired
// return, or a standalone return for an existing outbound.
func (s *LabelService) Purchase(ctx context.Context, actor Actor, req LabelRequest) (*LabelResult, error) {
	if !models.IsValidShipmentType(req.ShipmentType) {
		return nil, validationf("unknown shipment type %q", req.ShipmentType)
	}

	if req.ShipmentType == models.ShipmentTypeRentalReturn {
		if req.OutboundShipmentID == nil {
			return nil, validationf("outbound_shipment_id is required for a return label")
		}
		outbound, err := s.shipmentRepo.GetByID(ctx, *req.OutboundShipmentID)
		if err != nil {
			return nil, mapNotFound(err, "outbound shipment")
		}
		if err := s.authorizeShipment(ctx, actor, outbound, rbac.PermPurchaseLabel); err != nil {
			return nil, err
		}
		ret, err := s.PurchaseReturn(ctx, actor, outbound)
		if err != nil {
			return nil, err
		}
		return &LabelResult{Return: summarize(ret)}, nil
	}

	if err := validateOutbound(req); err != nil {
		return nil, err
	}
	if err := s.checkTransaction(ctx, actor, req); err != nil {
		return nil, err
	}

	outbound, err := s.PurchaseOutbound(ctx, actor, req)
	if err != nil {
		return nil, err
	}
	result := &LabelResult{Outbound: summarize(outbound)}

	if req.GenerateReturnLabel && req.ShipmentType == models.ShipmentTypeRentalOutbound {
		ret, err := s.PurchaseReturn(ctx, actor, outbound)
		if err != nil {
			s.log.Error("return label purchase failed, outbound label stands",
				zap.String("outbound_shipment_id", outbound.ID.String()),
				zap.String("outbound_label_id", outbound.ExternalLabelID),
				zap.String("tracking_number", outbound.TrackingNumber),
				zap.Error(err))
			s.rec.record(ctx, actor, models.EntityShipment, outbound.ID, "return_label_failed", events.EventReturnLabelFailed,
				map[string]any{"error": err.Error(), "outbound_label_id": outbound.ExternalLabelID})
			result.ReturnLabelError = err.Error()
		} else {
			result.Return = summarize(ret)
		}
	}
	return result, nil
}

// PurchaseOutbound buys the chosen rate. Nothing is written unless the
// provider reports success. The label is priced from the provider's amount
// for the rate; a differing carrier_cost from the client is logged.
func (s *LabelService) PurchaseOutbound(ctx context.Context, actor Actor, req LabelRequest) (*models.Shipment, error) {
	cost, err := s.rateAmount(ctx, req)
	if err != nil {
		metrics.LabelPurchases.WithLabelValues(req.ShipmentType, "failed").Inc()
		return nil, fmt.Errorf("%w: rate %s: %v", ErrLabelPurchaseFailed, req.RateID, err)
	}

	label, err := s.buy(ctx, req.RateID)
	if err != nil {
		metrics.LabelPurchases.WithLabelValues(req.ShipmentType, "failed").Inc()
		s.log.Warn("label purchase failed",
			zap.String("shipment_type", req.ShipmentType),
			zap.String("rate_id", req.RateID),
			zap.String("transaction_id", uuidString(req.TransactionID)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrLabelPurchaseFailed, err)
	}
	metrics.LabelPurchases.WithLabelValues(req.ShipmentType, "ok").Inc()

	quote := s.pricing.QuoteShipping(cost)
	sh := &models.Shipment{
		TransactionID:        req.TransactionID,
		ShipmentType:         req.ShipmentType,
		SenderID:             req.SenderID,
		RecipientID:          req.RecipientID,
		ExternalShipmentID:   req.ExternalShipmentID,
		ExternalRateID:       req.RateID,
		ExternalLabelID:      label.ObjectID,
		Carrier:              strings.ToLower(req.Carrier),
		TrackingNumber:       label.TrackingNumber,
		TrackingURL:          label.TrackingURL,
		LabelURL:             label.LabelURL,
		FromAddress:          req.From,
		ToAddress:            req.To,
		Parcel:               req.Parcel,
		CarrierCostCents:     quote.CarrierCostCents,
		PayerPriceCents:      quote.BuyerPriceCents,
		PlatformRevenueCents: quote.PlatformRevenueCents,
		Payer:                models.PayerFor(req.ShipmentType),
		Status:               models.ShipmentStatusLabelCreated,
	}
	if err := s.shipmentRepo.Create(ctx, sh); err != nil {
		s.log.Error("label purchased but shipment not saved",
			zap.String("label_id", label.ObjectID),
			zap.String("rate_id", req.RateID),
			zap.String("tracking_number", label.TrackingNumber),
			zap.Error(err))
		return nil, fmt.Errorf("save shipment for label %s: %w", label.ObjectID, err)
	}

	s.purchased(ctx, actor, sh)
	return sh, nil
}

// PurchaseReturn buys the cheapest rate for the reversed route and pairs
// the new shipment with the outbound atomically.
func (s *LabelService) PurchaseReturn(ctx context.Context, actor Actor, outbound *models.Shipment) (*models.Shipment, error) {
	if outbound.ShipmentType != models.ShipmentTypeRentalOutbound {
		return nil, validationf("return labels pair with rental_outbound shipments only")
	}
	if outbound.PairedShipmentID != nil {
		return nil, conflictf("shipment %s already has a return label", outbound.ID)
	}

	from, to := outbound.ReturnAddresses()
	var quote *shipping.RateQuote
	err := callUpstream(ctx, s.policy, "shipping", "create_shipment", func(ctx context.Context) error {
		var err error
		quote, err = s.provider.CreateShipment(ctx, from, to, outbound.Parcel)
		return err
	})
	if err != nil {
		metrics.LabelPurchases.WithLabelValues(models.ShipmentTypeRentalReturn, "failed").Inc()
		return nil, fmt.Errorf("%w: return rates: %v", ErrLabelPurchaseFailed, err)
	}
	rate, ok := shipping.CheapestRate(quote.Rates)
	if !ok {
		metrics.LabelPurchases.WithLabelValues(models.ShipmentTypeRentalReturn, "no_rates").Inc()
		return nil, fmt.Errorf("%w: %v", ErrLabelPurchaseFailed, shipping.ErrNoRates)
	}

	label, err := s.buy(ctx, rate.ObjectID)
	if err != nil {
		metrics.LabelPurchases.WithLabelValues(models.ShipmentTypeRentalReturn, "failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrLabelPurchaseFailed, err)
	}
	metrics.LabelPurchases.WithLabelValues(models.ShipmentTypeRentalReturn, "ok").Inc()

	priced := s.pricing.QuoteShipping(rate.Amount)
	ret := &models.Shipment{
		TransactionID:        outbound.TransactionID,
		ShipmentType:         models.ShipmentTypeRentalReturn,
		SenderID:             outbound.RecipientID,
		RecipientID:          outbound.SenderID,
		ExternalShipmentID:   quote.ShipmentID,
		ExternalRateID:       rate.ObjectID,
		ExternalLabelID:      label.ObjectID,
		Carrier:              strings.ToLower(rate.Provider),
		TrackingNumber:       label.TrackingNumber,
		TrackingURL:          label.TrackingURL,
		LabelURL:             label.LabelURL,
		FromAddress:          from,
		ToAddress:            to,
		Parcel:               outbound.Parcel,
		CarrierCostCents:     priced.CarrierCostCents,
		PayerPriceCents:      priced.BuyerPriceCents,
		PlatformRevenueCents: priced.PlatformRevenueCents,
		Payer:                models.PayerFor(models.ShipmentTypeRentalReturn),
		Status:               models.ShipmentStatusLabelCreated,
	}
	if err := s.shipmentRepo.CreateReturnPair(ctx, outbound.ID, ret); err != nil {
		s.log.Error("return label purchased but pairing not saved",
			zap.String("outbound_shipment_id", outbound.ID.String()),
			zap.String("label_id", label.ObjectID),
			zap.String("tracking_number", label.TrackingNumber),
			zap.Error(err))
		if errors.Is(err, repositories.ErrAlreadyPaired) {
			return nil, conflictf("shipment %s already has a return label", outbound.ID)
		}
		return nil, fmt.Errorf("pair return label %s: %w", label.ObjectID, err)
	}
	paired := ret.ID
	outbound.PairedShipmentID = &paired

	s.purchased(ctx, actor, ret)
	return ret, nil
}

// VoidReturn cancels an unshipped return label. The status change does not
// depend on the refund: a failed refund is logged and recorded on the
// shipment, and the label stays cancelled.
func (s *LabelService) VoidReturn(ctx context.Context, actor Actor, shipmentID uuid.UUID) error {
	sh, err := s.shipmentRepo.GetByID(ctx, shipmentID)
	if err != nil {
		return mapNotFound(err, "shipment")
	}
	if sh.ShipmentType != models.ShipmentTypeRentalReturn {
		return validationf("only rental_return labels can be voided")
	}
	if err := s.authorizeShipment(ctx, actor, sh, rbac.PermVoidReturnLabel); err != nil {
		return err
	}

	switch sh.Status {
	case models.ShipmentStatusCancelled:
		return nil
	case models.ShipmentStatusLabelCreated:
	default:
		return conflictf("return label already %s", sh.Status)
	}

	ok, err := s.shipmentRepo.MarkCancelled(ctx, sh.ID)
	if err != nil {
		return err
	}
	if !ok {
		current, err := s.shipmentRepo.GetByID(ctx, sh.ID)
		if err != nil {
			return err
		}
		if current.Status == models.ShipmentStatusCancelled {
			return nil
		}
		return conflictf("return label already %s", current.Status)
	}

	refundStatus := "requested"
	var refund *shipping.Refund
	err = callUpstream(ctx, s.policy, "shipping", "refund_label", func(ctx context.Context) error {
		var err error
		refund, err = s.provider.RefundLabel(ctx, sh.ExternalLabelID)
		return err
	})
	if err != nil {
		refundStatus = "failed"
		s.log.Error("return label refund failed, label cancelled locally",
			zap.String("shipment_id", sh.ID.String()),
			zap.String("label_id", sh.ExternalLabelID),
			zap.Error(err))
	} else if refund.Status != "" {
		refundStatus = strings.ToLower(refund.Status)
	}
	if err := s.shipmentRepo.SetRefundStatus(ctx, sh.ID, refundStatus); err != nil {
		s.log.Warn("failed to store refund status", zap.String("shipment_id", sh.ID.String()), zap.Error(err))
	}

	s.rec.record(ctx, actor, models.EntityShipment, sh.ID, "return_label_voided", events.EventReturnLabelVoided, map[string]any{
		"refund_status":  refundStatus,
		"label_id":       sh.ExternalLabelID,
		"transaction_id": uuidString(sh.TransactionID),
	})
	return nil
}

func (s *LabelService) rateAmount(ctx context.Context, req LabelRequest) (decimal.Decimal, error) {
	var rate *shipping.Rate
	err := callUpstream(ctx, s.policy, "shipping", "get_rate", func(ctx context.Context) error {
		var err error
		rate, err = s.provider.GetRate(ctx, req.RateID)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	if rate.Amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("provider rate %s has negative amount %s", req.RateID, rate.Amount)
	}
	if !rate.Amount.Equal(req.CarrierCost) {
		s.log.Warn("carrier cost differs from provider rate, using provider amount",
			zap.String("rate_id", req.RateID),
			zap.String("client_amount", req.CarrierCost.String()),
			zap.String("provider_amount", rate.Amount.String()))
	}
	return rate.Amount, nil
}

// buy purchases rateID. A timeout or 5xx leaves the outcome unknown, so the
// provider is asked for an existing purchase of the rate before posting
// again and once more before giving up.
func (s *LabelService) buy(ctx context.Context, rateID string) (*shipping.Label, error) {
	var label *shipping.Label
	unknown := false
	err := callUpstream(ctx, s.policy, "shipping", "buy_label", func(ctx context.Context) error {
		if unknown {
			found, err := s.provider.FindLabelForRate(ctx, rateID)
			if err != nil {
				return err
			}
			if found != nil {
				label = found
				return nil
			}
		}
		var err error
		label, err = s.provider.BuyLabel(ctx, rateID)
		if err != nil && !errors.Is(err, shipping.ErrRejected) && !errors.Is(err, shipping.ErrPurchaseFailed) {
			unknown = true
		}
		return err
	})
	if err == nil {
		if unknown {
			s.log.Warn("label purchase reconciled after unknown outcome",
				zap.String("rate_id", rateID), zap.String("label_id", label.ObjectID))
		}
		return label, nil
	}
	if !unknown {
		return nil, err
	}

	found, ferr := s.provider.FindLabelForRate(ctx, rateID)
	if ferr == nil && found != nil {
		s.log.Warn("label purchase reconciled after unknown outcome",
			zap.String("rate_id", rateID), zap.String("label_id", found.ObjectID), zap.NamedError("purchase_error", err))
		return found, nil
	}
	s.log.Error("label purchase outcome unknown, check provider for this rate",
		zap.String("rate_id", rateID), zap.Error(err), zap.NamedError("lookup_error", ferr))
	return nil, err
}

func (s *LabelService) purchased(ctx context.Context, actor Actor, sh *models.Shipment) {
	s.rec.record(ctx, actor, models.EntityShipment, sh.ID, "label_purchased", events.EventLabelPurchased, map[string]any{
		"shipment_type":      sh.ShipmentType,
		"transaction_id":     uuidString(sh.TransactionID),
		"tracking_number":    sh.TrackingNumber,
		"carrier":            sh.Carrier,
		"payer":              sh.Payer,
		"payer_price_cents":  sh.PayerPriceCents,
		"carrier_cost_cents": sh.CarrierCostCents,
	})
	s.log.Info("label purchased",
		zap.String("shipment_id", sh.ID.String()),
		zap.String("shipment_type", sh.ShipmentType),
		zap.String("tracking_number", sh.TrackingNumber))
}

// checkTransaction ties an outbound label to its paid transaction. Rental
// outbound labels must name one: the overdue sweep finds deposits through it.
func (s *LabelService) checkTransaction(ctx context.Context, actor Actor, req LabelRequest) error {
	if req.TransactionID == nil {
		if req.ShipmentType == models.ShipmentTypeRentalOutbound {
			return validationf("transaction_id is required for rental_outbound labels")
		}
		if actor.System || actor.UserID == req.SenderID || actor.UserID == req.RecipientID || actor.IsAdmin {
			return nil
		}
		return fmt.Errorf("%w: caller is not a party to this shipment", ErrForbidden)
	}

	tx, err := s.txRepo.GetByID(ctx, *req.TransactionID)
	if err != nil {
		return mapNotFound(err, "transaction")
	}
	if err := authorize(actor, tx.BuyerID, tx.SellerID, rbac.PermPurchaseLabel); err != nil {
		return err
	}
	wantKind := models.TransactionKindSale
	if req.ShipmentType == models.ShipmentTypeRentalOutbound {
		wantKind = models.TransactionKindRental
	}
	if tx.Kind != wantKind {
		return validationf("%s label does not match %s transaction", req.ShipmentType, tx.Kind)
	}
	switch tx.Status {
	case models.TransactionStatusCanceled, models.TransactionStatusFailed, models.TransactionStatusCompleted:
		return conflictf("transaction is %s", tx.Status)
	}

	if _, err := s.shipmentRepo.GetOutboundForTransaction(ctx, tx.ID); err == nil {
		return conflictf("transaction %s already has an outbound label", tx.ID)
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return err
	}
	return nil
}

func (s *LabelService) authorizeShipment(ctx context.Context, actor Actor, sh *models.Shipment, perm string) error {
	if sh.TransactionID == nil {
		if actor.System || actor.IsAdmin || actor.UserID == sh.SenderID || actor.UserID == sh.RecipientID {
			return nil
		}
		return fmt.Errorf("%w: caller is not a party to this shipment", ErrForbidden)
	}
	tx, err := s.txRepo.GetByID(ctx, *sh.TransactionID)
	if err != nil {
		return mapNotFound(err, "transaction")
	}
	return authorize(actor, tx.BuyerID, tx.SellerID, perm)
}

func validateOutbound(req LabelRequest) error {
	if req.RateID == "" {
		return validationf("rate_id is required")
	}
	if req.CarrierCost.IsNegative() {
		return validationf("carrier cost must not be negative")
	}
	if req.SenderID == uuid.Nil || req.RecipientID == uuid.Nil {
		return validationf("sender_id and recipient_id are required")
	}
	if err := validateAddress("from", req.From); err != nil {
		return err
	}
	if err := validateAddress("to", req.To); err != nil {
		return err
	}
	if req.Parcel.Weight == "" || req.Parcel.MassUnit == "" {
		return validationf("parcel weight and mass_unit are required")
	}
	return nil
}

func validateAddress(which string, a models.Address) error {
	if a.Street1 == "" || a.City == "" || a.Zip == "" || a.Country == "" {
		return validationf("%s address needs street1, city, zip and country", which)
	}
	return nil
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
