package services

import (
	"context"
	"errors"

	"github.com/chris-briden/edc-exchange-sub000/internal/metrics"
	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const pollBatchSize = 50

type InFlightLister interface {
	ListInFlight(ctx context.Context, after uuid.UUID, limit int) ([]models.Shipment, error)
}

// CursorStore persists the poller's position so a restart resumes the pass
// instead of starting over.
type CursorStore interface {
	Load(ctx context.Context) (uuid.UUID, error)
	Save(ctx context.Context, after uuid.UUID) error
}

// TrackingPoller fetches tracking for shipments the carrier webhook may have
// missed and feeds it through WebhookService.ApplyTracking.
type TrackingPoller struct {
	shipments InFlightLister
	source    TrackingSource
	webhooks  *WebhookService
	cursor    CursorStore
	log       *zap.Logger
}

func NewTrackingPoller(shipments InFlightLister, source TrackingSource, webhooks *WebhookService, cursor CursorStore, log *zap.Logger) *TrackingPoller {
	return &TrackingPoller{shipments: shipments, source: source, webhooks: webhooks, cursor: cursor, log: log}
}

type PollResult struct {
	Polled  int
	Applied int
	Failed  int
	Done    bool // the pass reached the end and the cursor wrapped
}

// PollBatch processes one page of in-flight shipments after the saved cursor.
func (p *TrackingPoller) PollBatch(ctx context.Context) (PollResult, error) {
	var res PollResult

	after, err := p.cursor.Load(ctx)
	if err != nil {
		return res, err
	}
	batch, err := p.shipments.ListInFlight(ctx, after, pollBatchSize)
	if err != nil {
		metrics.TrackingPolls.WithLabelValues("error").Inc()
		return res, err
	}

	for _, sh := range batch {
		if ctx.Err() != nil {
			break
		}
		res.Polled++
		after = sh.ID

		ev, err := p.source.GetTracking(ctx, sh.Carrier, sh.TrackingNumber)
		if err != nil {
			res.Failed++
			if !errors.Is(err, shipping.ErrRejected) {
				p.log.Warn("tracking fetch failed",
					zap.String("shipment_id", sh.ID.String()),
					zap.String("tracking_number", sh.TrackingNumber),
					zap.Error(err))
			}
			continue
		}
		if ev.Carrier == "" {
			ev.Carrier = sh.Carrier
		}
		if ev.TrackingNumber == "" {
			ev.TrackingNumber = sh.TrackingNumber
		}
		if err := p.webhooks.ApplyTracking(ctx, ev); err != nil {
			res.Failed++
			p.log.Error("apply polled tracking",
				zap.String("shipment_id", sh.ID.String()),
				zap.String("status", ev.TrackingStatus.Status),
				zap.Error(err))
			continue
		}
		res.Applied++
	}

	if len(batch) < pollBatchSize {
		after = uuid.Nil
		res.Done = true
	}
	if err := p.cursor.Save(ctx, after); err != nil {
		return res, err
	}

	metrics.TrackingPolls.WithLabelValues("ok").Inc()
	return res, nil
}

// PollAll runs batches until the pass wraps around.
func (p *TrackingPoller) PollAll(ctx context.Context) (PollResult, error) {
	var total PollResult
	for {
		res, err := p.PollBatch(ctx)
		total.Polled += res.Polled
		total.Applied += res.Applied
		total.Failed += res.Failed
		if err != nil {
			return total, err
		}
		if res.Done || ctx.Err() != nil {
			total.Done = res.Done
			return total, nil
		}
	}
}
