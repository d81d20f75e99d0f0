package repositories

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ListingRepo struct {
	pool *pgxpool.Pool
}

func NewListingRepo(pool *pgxpool.Pool) *ListingRepo {
	return &ListingRepo{pool: pool}
}

func (r *ListingRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var l models.Listing
	err := r.pool.QueryRow(ctx, `
		SELECT id, seller_id, title, kind, status, price_cents, rental_fee_cents, deposit_cents,
		       rental_duration_days, currency
		FROM listings WHERE id = $1
	`, id).Scan(&l.ID, &l.SellerID, &l.Title, &l.Kind, &l.Status, &l.PriceCents, &l.RentalFeeCents, &l.DepositCents,
		&l.RentalDurationDays, &l.Currency)
	if err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

// MarkSold is the only write the orchestrator makes to listings.
func (r *ListingRepo) MarkSold(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE listings SET status = 'sold', updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
