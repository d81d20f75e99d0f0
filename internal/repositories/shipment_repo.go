package repositories

import (
	"context"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ShipmentRepo struct {
	pool *pgxpool.Pool
}

func NewShipmentRepo(pool *pgxpool.Pool) *ShipmentRepo {
	return &ShipmentRepo{pool: pool}
}

const shipmentColumns = `
	id, transaction_id, shipment_type, sender_id, recipient_id, external_shipment_id, external_rate_id,
	external_label_id, carrier, tracking_number, tracking_url, label_url, from_address, to_address, parcel,
	carrier_cost_cents, payer_price_cents, platform_revenue_cents, payer, status, refund_status,
	paired_shipment_id, shipped_at, delivered_at, created_at, updated_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var s models.Shipment
	err := row.Scan(&s.ID, &s.TransactionID, &s.ShipmentType, &s.SenderID, &s.RecipientID, &s.ExternalShipmentID, &s.ExternalRateID,
		&s.ExternalLabelID, &s.Carrier, &s.TrackingNumber, &s.TrackingURL, &s.LabelURL, &s.FromAddress, &s.ToAddress, &s.Parcel,
		&s.CarrierCostCents, &s.PayerPriceCents, &s.PlatformRevenueCents, &s.Payer, &s.Status, &s.RefundStatus,
		&s.PairedShipmentID, &s.ShippedAt, &s.DeliveredAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertShipment(ctx context.Context, q execQuerier, s *models.Shipment) error {
	return q.QueryRow(ctx, `
		INSERT INTO shipments (transaction_id, shipment_type, sender_id, recipient_id, external_shipment_id, external_rate_id,
		                       external_label_id, carrier, tracking_number, tracking_url, label_url, from_address, to_address, parcel,
		                       carrier_cost_cents, payer_price_cents, platform_revenue_cents, payer, status, paired_shipment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at, updated_at
	`, s.TransactionID, s.ShipmentType, s.SenderID, s.RecipientID, s.ExternalShipmentID, s.ExternalRateID,
		s.ExternalLabelID, s.Carrier, s.TrackingNumber, s.TrackingURL, s.LabelURL, s.FromAddress, s.ToAddress, s.Parcel,
		s.CarrierCostCents, s.PayerPriceCents, s.PlatformRevenueCents, s.Payer, s.Status, s.PairedShipmentID,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *ShipmentRepo) Create(ctx context.Context, s *models.Shipment) error {
	return insertShipment(ctx, r.pool, s)
}

// CreateReturnPair inserts the return shipment and points the outbound at it
// in one transaction. ErrAlreadyPaired if the outbound already has a return.
func (r *ShipmentRepo) CreateReturnPair(ctx context.Context, outboundID uuid.UUID, ret *models.Shipment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ret.PairedShipmentID = &outboundID
	if err := insertShipment(ctx, tx, ret); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE shipments SET paired_shipment_id = $1, updated_at = now()
		WHERE id = $2 AND paired_shipment_id IS NULL
	`, ret.ID, outboundID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrAlreadyPaired
	}
	return tx.Commit(ctx)
}

func (r *ShipmentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Shipment, error) {
	return scanShipment(r.pool.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
}

// GetByTrackingNumber prefers an exact carrier match when one is given.
func (r *ShipmentRepo) GetByTrackingNumber(ctx context.Context, carrier, trackingNumber string) (*models.Shipment, error) {
	return scanShipment(r.pool.QueryRow(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments
		WHERE tracking_number = $1
		ORDER BY (lower(carrier) = lower($2)) DESC, created_at DESC
		LIMIT 1
	`, trackingNumber, carrier))
}

func (r *ShipmentRepo) GetOutboundForTransaction(ctx context.Context, transactionID uuid.UUID) (*models.Shipment, error) {
	return scanShipment(r.pool.QueryRow(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments
		WHERE transaction_id = $1 AND shipment_type IN ('sale', 'rental_outbound')
	`, transactionID))
}

func (r *ShipmentRepo) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Shipment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments WHERE transaction_id = $1
		ORDER BY created_at
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateTrackingStatus applies a guarded status change. shipped_at is set
// on the first move into in_transit and delivered_at on delivered/returned;
// neither is ever overwritten.
func (r *ShipmentRepo) UpdateTrackingStatus(ctx context.Context, id uuid.UUID, to string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE shipments
		SET status = $1,
		    shipped_at = CASE WHEN $1 = 'in_transit' THEN COALESCE(shipped_at, $3) ELSE shipped_at END,
		    delivered_at = CASE WHEN $1 IN ('delivered', 'returned') THEN COALESCE(delivered_at, $3) ELSE delivered_at END,
		    updated_at = now()
		WHERE id = $2 AND status = ANY($4)
	`, to, id, at, models.ShipmentSourcesFor(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCancelled voids a return label that has not shipped yet.
func (r *ShipmentRepo) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE shipments SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND shipment_type = 'rental_return' AND status = 'label_created'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ShipmentRepo) SetRefundStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE shipments SET refund_status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

// ListInFlight pages through shipments that can still change status, in id
// order after the cursor.
func (r *ShipmentRepo) ListInFlight(ctx context.Context, after uuid.UUID, limit int) ([]models.Shipment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+shipmentColumns+`
		FROM shipments
		WHERE status IN ('label_created', 'in_transit', 'failed')
		  AND tracking_number <> '' AND carrier <> ''
		  AND id > $1
		ORDER BY id
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Shipment
	for rows.Next() {
		s, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
