package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memCursor struct {
	after uuid.UUID
	saves int
}

func (c *memCursor) Load(context.Context) (uuid.UUID, error) { return c.after, nil }

func (c *memCursor) Save(_ context.Context, after uuid.UUID) error {
	c.after = after
	c.saves++
	return nil
}

type stubTracking struct {
	status map[string]string // tracking number -> carrier status
	calls  int
}

func (s *stubTracking) GetTracking(_ context.Context, carrier, number string) (*shipping.TrackingEvent, error) {
	s.calls++
	st, ok := s.status[number]
	if !ok {
		return nil, fmt.Errorf("%w: 404", shipping.ErrRejected)
	}
	return &shipping.TrackingEvent{
		TrackingStatus: shipping.TrackingStatus{Status: st, StatusDate: rfc(day0.AddDate(0, 0, 8))},
	}, nil
}

func TestPollerAppliesTrackingAndReleasesDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.payRental(t, 4000, 15000, 7)
	labels := h.shipRental(t, tx)
	h.track(t, labels.Outbound.TrackingNumber, "DELIVERED", rfc(day0))

	source := &stubTracking{status: map[string]string{labels.Return.TrackingNumber: "DELIVERED"}}
	cursor := &memCursor{}
	poller := NewTrackingPoller(h.shipments, source, h.webhooks, cursor, zap.NewNop())

	res, err := poller.PollAll(ctx)
	require.NoError(t, err)
	require.True(t, res.Done)
	require.Equal(t, 1, res.Polled, "delivered outbound is no longer in flight")
	require.Equal(t, 1, res.Applied)
	require.Equal(t, uuid.Nil, cursor.after)

	require.Equal(t, models.RentalSubStatusDepositReleased, subStatus(t, h, tx.ID))

	// nothing left in flight
	res, err = poller.PollAll(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Polled)
}

func TestPollerCountsFetchFailures(t *testing.T) {
	h := newHarness(t)
	tx := h.payRental(t, 4000, 15000, 7)
	h.shipRental(t, tx)

	source := &stubTracking{status: map[string]string{}}
	poller := NewTrackingPoller(h.shipments, source, h.webhooks, &memCursor{}, zap.NewNop())

	res, err := poller.PollBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Polled)
	require.Equal(t, 2, res.Failed)
	require.True(t, res.Done)
}
