package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TransactionRepo struct {
	pool *pgxpool.Pool
}

func NewTransactionRepo(pool *pgxpool.Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `
	id, listing_id, buyer_id, seller_id, kind, amount_cents, platform_fee_cents, shipping_cents,
	deposit_cents, currency, fee_hold_id, deposit_hold_id, status, rental_sub_status,
	rental_duration_days, paid_at, deposit_resolved_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.SellerID, &t.Kind, &t.AmountCents, &t.PlatformFeeCents, &t.ShippingCents,
		&t.DepositCents, &t.Currency, &t.FeeHoldID, &t.DepositHoldID, &t.Status, &t.RentalSubStatus,
		&t.RentalDurationDays, &t.PaidAt, &t.DepositResolvedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// InsertIfAbsent creates the transaction unless one already exists for the
// same fee hold. inserted is false on a replay; the unique constraint on
// fee_hold_id is the only dedup mechanism.
func (r *TransactionRepo) InsertIfAbsent(ctx context.Context, t *models.Transaction) (inserted bool, err error) {
	err = r.pool.QueryRow(ctx, `
		INSERT INTO transactions (listing_id, buyer_id, seller_id, kind, amount_cents, platform_fee_cents, shipping_cents,
		                          deposit_cents, currency, fee_hold_id, deposit_hold_id, status, rental_sub_status,
		                          rental_duration_days, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (fee_hold_id) DO NOTHING
		RETURNING id, created_at, updated_at
	`, t.ListingID, t.BuyerID, t.SellerID, t.Kind, t.AmountCents, t.PlatformFeeCents, t.ShippingCents,
		t.DepositCents, t.Currency, t.FeeHoldID, t.DepositHoldID, t.Status, t.RentalSubStatus,
		t.RentalDurationDays, t.PaidAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *TransactionRepo) GetByFeeHold(ctx context.Context, holdID string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE fee_hold_id = $1`, holdID))
}

func (r *TransactionRepo) GetByDepositHold(ctx context.Context, holdID string) (*models.Transaction, error) {
	return scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE deposit_hold_id = $1`, holdID))
}

// TransitionStatus moves status to `to` only from a status that allows it.
func (r *TransactionRepo) TransitionStatus(ctx context.Context, id uuid.UUID, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = ANY($3)
	`, to, id, models.TransactionSourcesFor(to))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionSubStatus is the compare-and-set for the deposit sub-state.
func (r *TransactionRepo) TransitionSubStatus(ctx context.Context, id uuid.UUID, from []string, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE transactions
		SET rental_sub_status = $1,
		    deposit_resolved_at = CASE WHEN $1 IN ('deposit_released', 'deposit_captured') THEN now() ELSE deposit_resolved_at END,
		    updated_at = now()
		WHERE id = $2 AND kind = 'rental' AND rental_sub_status = ANY($3)
	`, to, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type OverdueDeposit struct {
	Transaction         models.Transaction
	OutboundShipmentID  uuid.UUID
	OutboundDeliveredAt time.Time
}

// ListOverdueDeposits selects active rentals whose outbound was delivered,
// whose return is neither delivered nor voided, and whose grace deadline
// has passed.
func (r *TransactionRepo) ListOverdueDeposits(ctx context.Context, graceDays int, now time.Time, limit int) ([]OverdueDeposit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.listing_id, t.buyer_id, t.seller_id, t.kind, t.amount_cents, t.platform_fee_cents, t.shipping_cents,
		       t.deposit_cents, t.currency, t.fee_hold_id, t.deposit_hold_id, t.status, t.rental_sub_status,
		       t.rental_duration_days, t.paid_at, t.deposit_resolved_at, t.created_at, t.updated_at,
		       o.id, o.delivered_at
		FROM transactions t
		JOIN shipments o ON o.transaction_id = t.id AND o.shipment_type = 'rental_outbound'
		LEFT JOIN shipments r ON r.id = o.paired_shipment_id
		WHERE t.kind = 'rental'
		  AND t.rental_sub_status = 'active'
		  AND t.deposit_hold_id IS NOT NULL
		  AND o.status = 'delivered'
		  AND o.delivered_at IS NOT NULL
		  AND (r.id IS NULL OR r.status NOT IN ('delivered', 'cancelled'))
		  AND o.delivered_at + make_interval(days => t.rental_duration_days + $1) < $2
		ORDER BY o.delivered_at
		LIMIT $3
	`, graceDays, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OverdueDeposit
	for rows.Next() {
		var d OverdueDeposit
		t := &d.Transaction
		if err := rows.Scan(&t.ID, &t.ListingID, &t.BuyerID, &t.SellerID, &t.Kind, &t.AmountCents, &t.PlatformFeeCents, &t.ShippingCents,
			&t.DepositCents, &t.Currency, &t.FeeHoldID, &t.DepositHoldID, &t.Status, &t.RentalSubStatus,
			&t.RentalDurationDays, &t.PaidAt, &t.DepositResolvedAt, &t.CreatedAt, &t.UpdatedAt,
			&d.OutboundShipmentID, &d.OutboundDeliveredAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListStuckReleases returns rentals whose release was claimed but never
// finalised, and active rentals whose return was delivered without the
// release being claimed.
func (r *TransactionRepo) ListStuckReleases(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions t
		WHERE t.kind = 'rental'
		  AND (
		    (t.rental_sub_status = 'returned' AND t.updated_at < $1)
		    OR (t.rental_sub_status = 'active' AND EXISTS (
		        SELECT 1 FROM shipments r
		        WHERE r.transaction_id = t.id
		          AND r.shipment_type = 'rental_return'
		          AND r.status = 'delivered'
		          AND r.updated_at < $1))
		  )
		ORDER BY t.updated_at
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
