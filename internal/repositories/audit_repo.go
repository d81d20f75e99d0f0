package repositories

import (
	"context"

	"github.com/chris-briden/edc-exchange-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxAuditPage = 200

// AuditRepo is the append-only history of transactions, shipments and
// listings. Rows are never updated.
type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	var meta any
	if len(entry.Meta) > 0 {
		meta = entry.Meta
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor_user_id, actor_type, action, entity_type, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.ActorUserID, entry.ActorType, entry.Action, entry.EntityType, entry.EntityID, meta)
	return err
}

// ListForEntities pages through the merged history of several entities,
// oldest first.
func (r *AuditRepo) ListForEntities(ctx context.Context, entityIDs []uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if len(entityIDs) == 0 {
		return []models.AuditLog{}, nil
	}
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_user_id, actor_type, action, entity_type, entity_id, meta, created_at
		FROM audit_log
		WHERE entity_id = ANY($1)
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, entityIDs, limit, offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[models.AuditLog])
}
