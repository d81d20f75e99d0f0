package repositories

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepo reads the payout side of user profiles. Profiles themselves are
// managed by the profile service.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetSeller(ctx context.Context, id uuid.UUID) (*models.Seller, error) {
	var s models.Seller
	err := r.pool.QueryRow(ctx, `
		SELECT id, payout_account_id, payouts_enabled
		FROM users WHERE id = $1
	`, id).Scan(&s.ID, &s.PayoutAccountID, &s.PayoutsEnabled)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}
