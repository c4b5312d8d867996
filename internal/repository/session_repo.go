package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"apoyo-citas/internal/domain"
)

type ChatSessionRepository interface {
	Create(ctx context.Context, session domain.ChatSession) error
	End(ctx context.Context, id string, endedAt time.Time) error
	GetByID(ctx context.Context, id string) (domain.ChatSession, error)
}

type PgChatSessionRepository struct {
	pool *pgxpool.Pool
}

func NewPgChatSessionRepository(pool *pgxpool.Pool) *PgChatSessionRepository {
	return &PgChatSessionRepository{pool: pool}
}

func (r *PgChatSessionRepository) Create(ctx context.Context, session domain.ChatSession) error {
	const query = `
		INSERT INTO chat_sessions (id, user_id, started_at)
		VALUES ($1, $2, $3)
	`
	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.StartedAt,
	)
	return err
}

// End marca la sesión como terminada; una sesión ya cerrada conserva su fecha.
func (r *PgChatSessionRepository) End(ctx context.Context, id string, endedAt time.Time) error {
	const query = `
		UPDATE chat_sessions
		SET ended_at = COALESCE(ended_at, $2)
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, endedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgChatSessionRepository) GetByID(ctx context.Context, id string) (domain.ChatSession, error) {
	const query = `
		SELECT id, user_id, started_at, ended_at
		FROM chat_sessions
		WHERE id = $1
	`
	var session domain.ChatSession
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.StartedAt,
		&session.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatSession{}, err
	}
	return session, err
}
