package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/straymeet/straymeet/internal/domain/models"
)

type SessionRepository interface {
	InsertSession(ctx context.Context, rec models.SessionRecord) error
}

type sessionRepo struct {
	db *sqlx.DB
}

func NewSessionRepo(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) InsertSession(ctx context.Context, rec models.SessionRecord) error {
	query := `INSERT INTO session_logs
		(kind, connection_id, username, gender, started_at, ended_at, duration_seconds, concurrent_at_start, room_code, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		string(rec.Kind),
		rec.ConnectionID,
		rec.Username,
		rec.Gender,
		rec.StartedAt,
		rec.EndedAt,
		rec.DurationSeconds,
		rec.ConcurrentAtStart,
		rec.RoomCode,
		rec.Location,
	)
	if err != nil {
		return fmt.Errorf("insert session log: %w", err)
	}

	return nil
}
