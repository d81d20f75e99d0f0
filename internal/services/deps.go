package services

import (
	"context"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/chris-briden/edc-exchange-sub000/internal/repositories"
	"github.com/chris-briden/edc-exchange-sub000/internal/shipping"
	"github.com/google/uuid"
)

// The stores below are satisfied by the pgx repositories and by in-memory
// fakes in tests.

type TransactionStore interface {
	InsertIfAbsent(ctx context.Context, t *models.Transaction) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByFeeHold(ctx context.Context, holdID string) (*models.Transaction, error)
	GetByDepositHold(ctx context.Context, holdID string) (*models.Transaction, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to string) (bool, error)
	TransitionSubStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error)
	ListOverdueDeposits(ctx context.Context, graceDays int, now time.Time, limit int) ([]repositories.OverdueDeposit, error)
	ListStuckReleases(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error)
}

type ShipmentStore interface {
	Create(ctx context.Context, s *models.Shipment) error
	CreateReturnPair(ctx context.Context, outboundID uuid.UUID, ret *models.Shipment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error)
	GetByTrackingNumber(ctx context.Context, carrier, trackingNumber string) (*models.Shipment, error)
	GetOutboundForTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Shipment, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Shipment, error)
	UpdateTrackingStatus(ctx context.Context, id uuid.UUID, to string, at time.Time) (bool, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)
	SetRefundStatus(ctx context.Context, id uuid.UUID, status string) error
}

type ListingStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error)
	MarkSold(ctx context.Context, id uuid.UUID) (bool, error)
}

type SellerStore interface {
	GetSeller(ctx context.Context, id uuid.UUID) (*models.Seller, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	ListForEntities(ctx context.Context, entityIDs []uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// LabelProvider is the part of the shipping client the orchestrator uses.
type LabelProvider interface {
	CreateShipment(ctx context.Context, from, to models.Address, parcel models.Parcel) (*shipping.RateQuote, error)
	GetRate(ctx context.Context, rateID string) (*shipping.Rate, error)
	BuyLabel(ctx context.Context, rateID string) (*shipping.Label, error)
	FindLabelForRate(ctx context.Context, rateID string) (*shipping.Label, error)
	RefundLabel(ctx context.Context, labelID string) (*shipping.Refund, error)
}

// TrackingSource is what the poller needs from the label provider.
type TrackingSource interface {
	GetTracking(ctx context.Context, carrier, trackingNumber string) (*shipping.TrackingEvent, error)
}
