package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTransactionGetAndEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.payRental(t, 4000, 15000, 7)
	labels := h.shipRental(t, tx)
	h.track(t, labels.Outbound.TrackingNumber, "TRANSIT", rfc(day0))

	view, err := h.reads.Get(ctx, Actor{UserID: tx.SellerID}, tx.ID)
	require.NoError(t, err)
	require.Len(t, view.Shipments, 2)

	entries, err := h.reads.Events(ctx, Actor{UserID: tx.BuyerID}, tx.ID, 0, 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	require.Equal(t, []string{
		"transaction_paid",
		"label_purchased",
		"label_purchased",
		"shipment_status_to_in_transit",
		"transaction_status_to_shipped",
	}, actions)

	page, err := h.reads.Events(ctx, Actor{UserID: tx.BuyerID}, tx.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "label_purchased", page[0].Action)
}

func TestTransactionReadsAreScopedToParties(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx := h.payRental(t, 4000, 15000, 7)

	_, err := h.reads.Get(ctx, Actor{UserID: uuid.New()}, tx.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = h.reads.Events(ctx, Actor{UserID: uuid.New()}, tx.ID, 10, 0)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = h.reads.Get(ctx, Actor{UserID: uuid.New(), IsAdmin: true}, tx.ID)
	require.NoError(t, err)

	_, err = h.reads.Get(ctx, Actor{UserID: tx.BuyerID}, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
