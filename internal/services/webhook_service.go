package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/metrics"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/payments"
	"github.com/chris-briden/edc-exchange-sub000/internal/repositories"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"go.uber.org/zap"
)

// WebhookService applies processor and carrier deliveries to local state.
// Deliveries are at-least-once and unordered, so every write here is a
// guarded transition and a replay converges on the same state.
//
// The Handle* methods return an error only for authenticity failures.
// Anything else is logged and acknowledged so the sender stops retrying.
type WebhookService struct {
	txRepo       TransactionStore
	shipmentRepo ShipmentStore
	listings     ListingStore
	parser       payments.WebhookParser
	verifier     *shipping.Verifier
	deposits     *DepositService
	rec          recorder
	log          *zap.Logger
	now          func() time.Time
}

func NewWebhookService(
	txRepo TransactionStore,
	shipmentRepo ShipmentStore,
	listings ListingStore,
	auditRepo AuditStore,
	parser payments.WebhookParser,
	verifier *shipping.Verifier,
	deposits *DepositService,
	publisher events.Publisher,
	log *zap.Logger,
) *WebhookService {
	return &WebhookService{
		txRepo:       txRepo,
		shipmentRepo: shipmentRepo,
		listings:     listings,
		parser:       parser,
		verifier:     verifier,
		deposits:     deposits,
		rec:          recorder{audit: auditRepo, publisher: publisher, log: log},
		log:          log,
		now:          time.Now,
	}
}

func (s *WebhookService) HandlePayment(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.parser.ParseWebhook(payload, signature)
	if errors.Is(err, payments.ErrInvalidSignature) {
		metrics.WebhookEvents.WithLabelValues("payment", "unverified", "rejected").Inc()
		s.log.Warn("payment webhook rejected", zap.Error(err))
		return err
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("payment", "malformed", "error").Inc()
		s.log.Error("payment webhook could not be decoded", zap.Error(err))
		return nil
	}

	kind := paymentEventKind(ev)
	if err := s.ApplyPaymentEvent(ctx, ev); err != nil {
		metrics.WebhookEvents.WithLabelValues("payment", kind, "error").Inc()
		s.log.Error("payment webhook processing failed",
			zap.String("event_id", ev.EventID()),
			zap.String("kind", kind),
			zap.Error(err))
		return nil
	}
	metrics.WebhookEvents.WithLabelValues("payment", kind, "ok").Inc()
	return nil
}

// ApplyPaymentEvent maps one verified processor event onto local state.
func (s *WebhookService) ApplyPaymentEvent(ctx context.Context, ev payments.Event) error {
	switch e := ev.(type) {
	case payments.FeeCaptured:
		return s.feeCaptured(ctx, e)
	case payments.DepositAuthorized:
		s.log.Debug("deposit hold authorized", zap.String("hold_id", e.HoldID))
		return nil
	case payments.DepositCanceled:
		return s.depositResolved(ctx, e.HoldID, e.FeeHoldID, models.RentalSubStatusDepositReleased)
	case payments.DepositCaptured:
		return s.depositResolved(ctx, e.HoldID, e.FeeHoldID, models.RentalSubStatusDepositCaptured)
	case payments.FeeRefunded:
		return s.feeRefunded(ctx, e)
	case payments.UnknownEvent:
		s.log.Debug("ignoring payment event", zap.String("event_id", e.ID), zap.String("type", e.Type), zap.String("reason", e.Reason))
		return nil
	default:
		return fmt.Errorf("unhandled payment event %T", ev)
	}
}

func (s *WebhookService) feeCaptured(ctx context.Context, e payments.FeeCaptured) error {
	m := e.Meta
	if m.Kind != models.TransactionKindSale && m.Kind != models.TransactionKindRental {
		return fmt.Errorf("fee hold %s: unknown kind %q", e.HoldID, m.Kind)
	}

	tx := &models.Transaction{
		ListingID:        m.ListingID,
		BuyerID:          m.BuyerID,
		SellerID:         m.SellerID,
		Kind:             m.Kind,
		AmountCents:      e.AmountCents,
		PlatformFeeCents: m.PlatformFeeCents,
		ShippingCents:    m.ShippingCents,
		Currency:         strings.ToLower(e.Currency),
		FeeHoldID:        e.HoldID,
		Status:           models.TransactionStatusPaid,
		PaidAt:           s.now(),
	}
	if m.Kind == models.TransactionKindRental {
		active := models.RentalSubStatusActive
		tx.RentalSubStatus = &active
		tx.RentalDurationDays = m.RentalDurationDays
		if m.DepositHoldID != "" && m.DepositHoldID != e.HoldID {
			hold := m.DepositHoldID
			tx.DepositHoldID = &hold
			tx.DepositCents = m.DepositCents
		} else if m.DepositCents > 0 {
			s.log.Error("rental fee captured without a deposit hold reference",
				zap.String("fee_hold_id", e.HoldID), zap.Int64("deposit_cents", m.DepositCents))
		}
	}

	inserted, err := s.txRepo.InsertIfAbsent(ctx, tx)
	if err != nil {
		return fmt.Errorf("insert transaction for fee hold %s: %w", e.HoldID, err)
	}
	if inserted {
		s.rec.record(ctx, SystemActor, models.EntityTransaction, tx.ID, "transaction_paid", events.EventTransactionPaid, map[string]any{
			"kind":          tx.Kind,
			"listing_id":    tx.ListingID.String(),
			"buyer_id":      tx.BuyerID.String(),
			"seller_id":     tx.SellerID.String(),
			"amount_cents":  tx.AmountCents,
			"deposit_cents": tx.DepositCents,
			"fee_hold_id":   tx.FeeHoldID,
		})
		s.log.Info("transaction paid",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("fee_hold_id", e.HoldID),
			zap.String("kind", tx.Kind))
	} else {
		s.log.Info("fee capture replayed", zap.String("fee_hold_id", e.HoldID), zap.String("event_id", e.ID))
	}

	if tx.Kind != models.TransactionKindSale {
		return nil
	}
	// A replay still retries the listing flip in case the first delivery
	// stopped short of it; the guard keeps the notification single.
	sold, err := s.listings.MarkSold(ctx, tx.ListingID)
	if err != nil {
		return fmt.Errorf("mark listing %s sold: %w", tx.ListingID, err)
	}
	if sold {
		s.rec.record(ctx, SystemActor, models.EntityListing, tx.ListingID, "listing_sold", events.EventListingSold, map[string]any{
			"buyer_id":    m.BuyerID.String(),
			"seller_id":   m.SellerID.String(),
			"fee_hold_id": e.HoldID,
		})
	}
	return nil
}

func (s *WebhookService) depositResolved(ctx context.Context, holdID, feeHoldID, to string) error {
	tx, err := s.txRepo.GetByDepositHold(ctx, holdID)
	if errors.Is(err, repositories.ErrNotFound) && feeHoldID != "" {
		tx, err = s.txRepo.GetByFeeHold(ctx, feeHoldID)
	}
	if errors.Is(err, repositories.ErrNotFound) {
		// abandoned checkout, or the fee capture has not arrived yet
		s.log.Info("deposit event for unknown transaction", zap.String("hold_id", holdID), zap.String("to", to))
		return nil
	}
	if err != nil {
		return err
	}
	if tx.DepositHoldID == nil || *tx.DepositHoldID != holdID {
		s.log.Warn("deposit event does not match transaction hold",
			zap.String("transaction_id", tx.ID.String()), zap.String("hold_id", holdID))
		return nil
	}

	result, err := s.deposits.ApplyProcessorResult(ctx, tx, to)
	if err != nil {
		return err
	}
	if result == DepositNoop {
		s.log.Debug("deposit already resolved", zap.String("transaction_id", tx.ID.String()), zap.String("sub_status", tx.SubStatus()))
	}
	return nil
}

func (s *WebhookService) feeRefunded(ctx context.Context, e payments.FeeRefunded) error {
	tx, err := s.txRepo.GetByFeeHold(ctx, e.HoldID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	ok, err := s.txRepo.TransitionStatus(ctx, tx.ID, models.TransactionStatusCanceled)
	if err != nil {
		return err
	}
	if ok {
		s.rec.record(ctx, SystemActor, models.EntityTransaction, tx.ID, "transaction_status_to_canceled", events.EventTransactionStatus,
			map[string]any{"old_status": tx.Status, "new_status": models.TransactionStatusCanceled, "reason": "fee_refunded"})
	}
	return nil
}

func (s *WebhookService) HandleTracking(ctx context.Context, body []byte, signature, token string) error {
	if err := s.verifier.Verify(body, signature, token); err != nil {
		metrics.WebhookEvents.WithLabelValues("shipment", "unverified", "rejected").Inc()
		s.log.Warn("shipment webhook rejected", zap.Error(err))
		return err
	}

	ev, err := shipping.ParseTrackingWebhook(body)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("shipment", "malformed", "error").Inc()
		s.log.Error("shipment webhook could not be decoded", zap.Error(err))
		return nil
	}

	if err := s.ApplyTracking(ctx, ev); err != nil {
		metrics.WebhookEvents.WithLabelValues("shipment", "tracking", "error").Inc()
		s.log.Error("shipment webhook processing failed",
			zap.String("carrier", ev.Carrier),
			zap.String("tracking_number", ev.TrackingNumber),
			zap.String("status", ev.TrackingStatus.Status),
			zap.Error(err))
		return nil
	}
	metrics.WebhookEvents.WithLabelValues("shipment", "tracking", "ok").Inc()
	return nil
}

// ApplyTracking applies one tracking update, from a webhook or the poller.
func (s *WebhookService) ApplyTracking(ctx context.Context, ev *shipping.TrackingEvent) error {
	to, ok := shipping.MapStatus(ev.TrackingStatus.Status)
	if !ok {
		return nil
	}

	sh, err := s.shipmentRepo.GetByTrackingNumber(ctx, strings.ToLower(ev.Carrier), ev.TrackingNumber)
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.Info("tracking update for unknown shipment",
			zap.String("carrier", ev.Carrier), zap.String("tracking_number", ev.TrackingNumber))
		return nil
	}
	if err != nil {
		return err
	}

	changed, err := s.shipmentRepo.UpdateTrackingStatus(ctx, sh.ID, to, s.statusTime(ev.TrackingStatus))
	if err != nil {
		return fmt.Errorf("update shipment %s: %w", sh.ID, err)
	}
	if changed {
		s.rec.record(ctx, SystemActor, models.EntityShipment, sh.ID, "shipment_status_to_"+to, events.EventShipmentStatusChanged, map[string]any{
			"old_status":      sh.Status,
			"new_status":      to,
			"shipment_type":   sh.ShipmentType,
			"tracking_number": sh.TrackingNumber,
			"transaction_id":  uuidString(sh.TransactionID),
		})
		if err := s.followShipment(ctx, sh, to); err != nil {
			return err
		}
	}

	// Re-driven on replays too, so a release that failed upstream gets
	// another chance; Release is a no-op once the deposit is terminal.
	if sh.ShipmentType == models.ShipmentTypeRentalReturn && to == models.ShipmentStatusDelivered &&
		sh.TransactionID != nil && (changed || sh.Status == models.ShipmentStatusDelivered) {
		if _, err := s.deposits.Release(ctx, *sh.TransactionID, SystemActor); err != nil {
			return fmt.Errorf("release deposit for transaction %s: %w", sh.TransactionID, err)
		}
	}
	return nil
}

// followShipment moves the transaction along with its outbound shipment.
func (s *WebhookService) followShipment(ctx context.Context, sh *models.Shipment, to string) error {
	if sh.TransactionID == nil || sh.ShipmentType == models.ShipmentTypeRentalReturn {
		return nil
	}

	var target string
	switch to {
	case models.ShipmentStatusInTransit:
		target = models.TransactionStatusShipped
	case models.ShipmentStatusDelivered:
		target = models.TransactionStatusDelivered
		if sh.ShipmentType == models.ShipmentTypeSale {
			target = models.TransactionStatusCompleted
		}
	default:
		return nil
	}

	ok, err := s.txRepo.TransitionStatus(ctx, *sh.TransactionID, target)
	if err != nil {
		return fmt.Errorf("transaction %s to %s: %w", sh.TransactionID, target, err)
	}
	if ok {
		s.rec.record(ctx, SystemActor, models.EntityTransaction, *sh.TransactionID, "transaction_status_to_"+target, events.EventTransactionStatus,
			map[string]any{"new_status": target, "shipment_id": sh.ID.String()})
	}
	return nil
}

func (s *WebhookService) statusTime(ts shipping.TrackingStatus) time.Time {
	if ts.StatusDate != "" {
		if t, err := time.Parse(time.RFC3339, ts.StatusDate); err == nil {
			return t
		}
	}
	return s.now()
}

func paymentEventKind(ev payments.Event) string {
	switch ev.(type) {
	case payments.FeeCaptured:
		return "fee_captured"
	case payments.DepositAuthorized:
		return "deposit_authorized"
	case payments.DepositCanceled:
		return "deposit_canceled"
	case payments.DepositCaptured:
		return "deposit_captured"
	case payments.FeeRefunded:
		return "fee_refunded"
	}
	return "unknown"
}
