package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/config"
	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/metrics"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/payments"
	"github.com/chris-briden/edc-exchange-sub000/internal/rbac"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sweepBatchSize = 100

// Result of one deposit operation, for logs and API responses.
const (
	DepositReleased = "released"
	DepositCaptured = "captured"
	DepositNoop     = "noop"
)

// DepositService drives the deposit sub-state. Every local write is a
// compare-and-set on rental_sub_status; the processor decides which of
// cancel or capture lands, and the local state follows it.
type DepositService struct {
	txRepo    TransactionStore
	processor payments.Processor
	rec       recorder
	policy    retry.Policy
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewDepositService(
	txRepo TransactionStore,
	auditRepo AuditStore,
	processor payments.Processor,
	publisher events.Publisher,
	policy retry.Policy,
	cfg *config.Config,
	log *zap.Logger,
) *DepositService {
	return &DepositService{
		txRepo:    txRepo,
		processor: processor,
		rec:       recorder{audit: auditRepo, publisher: publisher, log: log},
		policy:    policy,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Release cancels the deposit hold. It first claims the deposit by moving
// active -> returned, which takes it out of the overdue sweep, then cancels
// upstream and finalises. Already-terminal deposits are a no-op.
func (s *DepositService) Release(ctx context.Context, transactionID uuid.UUID, actor Actor) (string, error) {
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return "", mapNotFound(err, "transaction")
	}
	if !tx.IsRental() {
		return "", validationf("transaction %s is not a rental", tx.ID)
	}

	switch tx.SubStatus() {
	case models.RentalSubStatusDepositReleased, models.RentalSubStatusDepositCaptured:
		return DepositNoop, nil
	case models.RentalSubStatusActive:
		claimed, err := s.txRepo.TransitionSubStatus(ctx, tx.ID,
			[]string{models.RentalSubStatusActive}, models.RentalSubStatusReturned)
		if err != nil {
			return "", err
		}
		if claimed {
			returned := models.RentalSubStatusReturned
			tx.RentalSubStatus = &returned
		} else {
			// lost to a concurrent resolver; see where it landed
			if tx, err = s.txRepo.GetByID(ctx, transactionID); err != nil {
				return "", err
			}
			if models.IsTerminalDeposit(tx.SubStatus()) {
				return DepositNoop, nil
			}
		}
	case models.RentalSubStatusReturned:
		// a previous release was interrupted; cancelling again is idempotent
	default:
		return "", conflictf("transaction %s has no deposit state", tx.ID)
	}

	if tx.DepositHoldID == nil {
		return s.finalize(ctx, tx, models.RentalSubStatusDepositReleased, actor)
	}

	holdID := *tx.DepositHoldID
	err = callUpstream(ctx, s.policy, "payments", "cancel_hold", func(ctx context.Context) error {
		return s.processor.CancelHold(ctx, holdID)
	})
	switch {
	case err == nil:
		return s.finalize(ctx, tx, models.RentalSubStatusDepositReleased, actor)
	case errors.Is(err, payments.ErrHoldCaptured):
		s.log.Warn("deposit already captured upstream, following processor",
			zap.String("transaction_id", tx.ID.String()), zap.String("deposit_hold_id", holdID))
		return s.finalize(ctx, tx, models.RentalSubStatusDepositCaptured, actor)
	}

	s.actionFailed(ctx, tx, "release", err)
	return "", fmt.Errorf("%w: release deposit: %v", ErrUpstream, err)
}

// Remediate is the operator path for a release left in returned, or for
// releasing an active deposit by hand.
func (s *DepositService) Remediate(ctx context.Context, transactionID uuid.UUID, actor Actor) (string, error) {
	if err := authorize(actor, uuid.Nil, uuid.Nil, rbac.PermReleaseDeposit); err != nil {
		return "", err
	}
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return "", mapNotFound(err, "transaction")
	}
	if models.IsTerminalDeposit(tx.SubStatus()) {
		return "", conflictf("deposit already %s", tx.SubStatus())
	}
	return s.Release(ctx, transactionID, actor)
}

type SweepResult struct {
	Examined int `json:"examined"`
	Captured int `json:"captured"`
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// SweepOverdue captures deposits whose rental is past due plus grace with
// no return delivered. Safe to run repeatedly and concurrently: only
// active deposits are selected, and each is re-read before capture.
func (s *DepositService) SweepOverdue(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	grace := s.cfg.ReturnGraceDays

	candidates, err := s.txRepo.ListOverdueDeposits(ctx, grace, now, sweepBatchSize)
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return res, err
	}

	for _, c := range candidates {
		res.Examined++
		if !models.DepositOverdue(c.OutboundDeliveredAt, c.Transaction.RentalDurationDays, grace, now) {
			res.Skipped++
			continue
		}

		tx, err := s.txRepo.GetByID(ctx, c.Transaction.ID)
		if err != nil {
			res.Failed++
			s.log.Error("sweep: reload transaction", zap.String("transaction_id", c.Transaction.ID.String()), zap.Error(err))
			continue
		}
		if tx.SubStatus() != models.RentalSubStatusActive || tx.DepositHoldID == nil {
			res.Skipped++
			continue
		}

		holdID := *tx.DepositHoldID
		err = callUpstream(ctx, s.policy, "payments", "capture_hold", func(ctx context.Context) error {
			return s.processor.CaptureHold(ctx, holdID)
		})
		var result string
		switch {
		case err == nil:
			result, err = s.finalize(ctx, tx, models.RentalSubStatusDepositCaptured, SystemActor)
		case errors.Is(err, payments.ErrHoldCanceled):
			s.log.Warn("deposit already canceled upstream, following processor",
				zap.String("transaction_id", tx.ID.String()), zap.String("deposit_hold_id", holdID))
			result, err = s.finalize(ctx, tx, models.RentalSubStatusDepositReleased, SystemActor)
		default:
			s.actionFailed(ctx, tx, "capture", err)
		}
		if err != nil {
			res.Failed++
			continue
		}

		switch result {
		case DepositCaptured:
			res.Captured++
		case DepositReleased:
			res.Released++
		default:
			res.Skipped++
		}
	}

	metrics.SweepRuns.WithLabelValues("ok").Inc()
	s.log.Info("deposit sweep finished",
		zap.Int("examined", res.Examined),
		zap.Int("captured", res.Captured),
		zap.Int("released", res.Released),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

// RunSweep is the operator trigger for an immediate sweep.
func (s *DepositService) RunSweep(ctx context.Context, actor Actor) (SweepResult, error) {
	if err := authorize(actor, uuid.Nil, uuid.Nil, rbac.PermSweepDeposits); err != nil {
		return SweepResult{}, err
	}
	return s.SweepOverdue(ctx, s.now())
}

// RetryStuckReleases re-drives releases claimed more than olderThan ago
// that never reached a terminal state, and deposits still active although
// the return was delivered more than olderThan ago.
func (s *DepositService) RetryStuckReleases(ctx context.Context, olderThan time.Duration) (int, error) {
	stuck, err := s.txRepo.ListStuckReleases(ctx, s.now().Add(-olderThan), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, tx := range stuck {
		if _, err := s.Release(ctx, tx.ID, SystemActor); err != nil {
			s.log.Warn("stuck release retry failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("sub_status", tx.SubStatus()),
				zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// finalize applies {active, returned} -> to. Losing the guard means another
// path already resolved the deposit.
func (s *DepositService) finalize(ctx context.Context, tx *models.Transaction, to string, actor Actor) (string, error) {
	from := tx.SubStatus()
	ok, err := s.txRepo.TransitionSubStatus(ctx, tx.ID, models.DepositSourcesFor(to), to)
	if err != nil {
		s.log.Error("deposit resolved upstream but local write failed",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("to", to),
			zap.Error(err))
		return "", err
	}
	if !ok {
		return DepositNoop, nil
	}
	s.applied(ctx, tx, from, to, actor)
	if to == models.RentalSubStatusDepositCaptured {
		return DepositCaptured, nil
	}
	return DepositReleased, nil
}

// applied records a deposit transition and completes the rental.
func (s *DepositService) applied(ctx context.Context, tx *models.Transaction, from, to string, actor Actor) {
	eventType := events.EventDepositReleased
	result := DepositReleased
	if to == models.RentalSubStatusDepositCaptured {
		eventType = events.EventDepositCaptured
		result = DepositCaptured
	}
	metrics.DepositResolutions.WithLabelValues(result).Inc()

	meta := map[string]any{
		"old_sub_status": from,
		"new_sub_status": to,
		"buyer_id":       tx.BuyerID.String(),
		"seller_id":      tx.SellerID.String(),
		"deposit_cents":  tx.DepositCents,
	}
	if tx.DepositHoldID != nil {
		meta["deposit_hold_id"] = *tx.DepositHoldID
	}
	s.rec.record(ctx, actor, models.EntityTransaction, tx.ID, fmt.Sprintf("deposit_%s_to_%s", from, to), eventType, meta)
	s.log.Info("deposit resolved",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("result", result))

	if ok, err := s.txRepo.TransitionStatus(ctx, tx.ID, models.TransactionStatusCompleted); err != nil {
		s.log.Warn("failed to complete rental", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
	} else if ok {
		s.rec.record(ctx, actor, models.EntityTransaction, tx.ID, "transaction_status_to_completed", events.EventTransactionStatus,
			map[string]any{"new_status": models.TransactionStatusCompleted})
	}
}

// ApplyProcessorResult records a deposit resolution reported by the
// processor's own webhook.
func (s *DepositService) ApplyProcessorResult(ctx context.Context, tx *models.Transaction, to string) (string, error) {
	return s.finalize(ctx, tx, to, SystemActor)
}

func (s *DepositService) actionFailed(ctx context.Context, tx *models.Transaction, action string, err error) {
	holdID := ""
	if tx.DepositHoldID != nil {
		holdID = *tx.DepositHoldID
	}
	s.log.Error("deposit action failed after retries",
		zap.String("action", action),
		zap.String("transaction_id", tx.ID.String()),
		zap.String("deposit_hold_id", holdID),
		zap.String("sub_status", tx.SubStatus()),
		zap.Error(err))
	s.rec.record(ctx, SystemActor, models.EntityTransaction, tx.ID, "deposit_"+action+"_failed", events.EventDepositActionFailed,
		map[string]any{"action": action, "deposit_hold_id": holdID, "error": err.Error()})
}
