package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/straymeet/straymeet/internal/domain/models"
)

type VisitorRepository interface {
	UpsertVisitor(ctx context.Context, rec models.VisitorRecord) error
}

type visitorRepo struct {
	db *sqlx.DB
}

func NewVisitorRepo(db *sqlx.DB) VisitorRepository {
	return &visitorRepo{db: db}
}

// UpsertVisitor keeps exactly one row per user id; repeat visits are
// no-ops so the first-seen location and timestamp survive.
func (r *visitorRepo) UpsertVisitor(ctx context.Context, rec models.VisitorRecord) error {
	query := `INSERT INTO unique_visitors (user_id, location, first_seen_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, rec.UserID, rec.Location, rec.FirstSeenAt)
	if err != nil {
		return fmt.Errorf("upsert unique visitor: %w", err)
	}

	return nil
}
