package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/chris-briden/edc-exchange-sub000/internal/events"
	"github.com/chris-briden/edc-exchange-sub000/internal/metrics"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/payments"
	"github.com/chris-briden/edc-exchange-sub000/internal/rbac"
	"github.com/chris-briden/edc-exchange-sub000/internal/repositories"
	"github.com/chris-briden/edc-exchange-sub000/internal/retry"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor is whoever triggered an operation.
type Actor struct {
	UserID  uuid.UUID
	IsAdmin bool
	System  bool
}

var SystemActor = Actor{System: true}

func (a Actor) actorType() string {
	switch {
	case a.System:
		return models.ActorSystem
	case a.IsAdmin:
		return models.ActorAdmin
	}
	return models.ActorUser
}

func (a Actor) userID() *uuid.UUID {
	if a.UserID == uuid.Nil {
		return nil
	}
	id := a.UserID
	return &id
}

func authorize(a Actor, buyerID, sellerID uuid.UUID, perm string) error {
	if a.System {
		return nil
	}
	role := rbac.RoleFor(a.UserID, a.IsAdmin, buyerID, sellerID)
	if !rbac.HasPermission(role, perm) {
		return fmt.Errorf("%w: %s not allowed", ErrForbidden, perm)
	}
	return nil
}

func mapNotFound(err error, what string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

// callUpstream runs fn under the retry policy. Rejections and state
// conflicts reported by the upstream are not retried.
func callUpstream(ctx context.Context, policy retry.Policy, upstream, op string, fn func(ctx context.Context) error) error {
	err := policy.Do(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, payments.ErrRejected) ||
			errors.Is(err, payments.ErrHoldCanceled) ||
			errors.Is(err, payments.ErrHoldCaptured) ||
			errors.Is(err, shipping.ErrRejected) ||
			errors.Is(err, shipping.ErrPurchaseFailed) ||
			errors.Is(err, shipping.ErrNoRates) {
			return retry.Permanent(err)
		}
		return err
	})
	metrics.UpstreamCalls.WithLabelValues(upstream, op, metrics.Outcome(err)).Inc()
	return err
}

// recorder writes the audit row and publishes the matching event for one
// applied transition. Both are best effort.
type recorder struct {
	audit     AuditStore
	publisher events.Publisher
	log       *zap.Logger
}

func (r recorder) record(ctx context.Context, actor Actor, entityType string, entityID uuid.UUID, action, eventType string, meta map[string]any) {
	if err := r.audit.Log(ctx, models.AuditLog{
		ActorUserID: actor.userID(),
		ActorType:   actor.actorType(),
		Action:      action,
		EntityType:  entityType,
		EntityID:    &entityID,
		Meta:        meta,
	}); err != nil {
		r.log.Warn("audit log write failed", zap.String("action", action), zap.String("entity_id", entityID.String()), zap.Error(err))
	}

	if eventType == "" {
		return
	}
	payload := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		payload[k] = v
	}
	payload[entityType+"_id"] = entityID.String()
	_ = r.publisher.Publish(ctx, events.TransactionStream, events.Event{Type: eventType, Payload: payload})
}
