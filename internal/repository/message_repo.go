package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"apoyo-citas/internal/domain"
)

// TranscriptChannel es el canal de NOTIFY que anuncia cambios en messages.
const TranscriptChannel = "transcript_changes"

// MessageRepository persiste el transcript del chatbot.
type MessageRepository interface {
	Create(ctx context.Context, message domain.Message) error
	List(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error)
	// Delete borra un mensaje y devuelve su session_id. pgx.ErrNoRows si no existe.
	Delete(ctx context.Context, id string) (string, error)
	// DeleteBySession borra todos los mensajes de la sesión en una sola transacción.
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

type PgMessageRepository struct {
	pool   *pgxpool.Pool
	notify bool
}

// NewPgMessageRepository crea el repositorio. Con notify=true cada escritura
// emite pg_notify sobre TranscriptChannel dentro de la misma transacción.
func NewPgMessageRepository(pool *pgxpool.Pool, notify bool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool, notify: notify}
}

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) error {
	const query = `
		INSERT INTO messages (id, session_id, text, sender, ts, is_typing, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	var sessionID interface{}
	if message.SessionID != "" {
		sessionID = message.SessionID
	}
	var meta []byte
	if message.Meta != nil {
		encoded, err := json.Marshal(message.Meta)
		if err != nil {
			return err
		}
		meta = encoded
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query,
			message.ID,
			sessionID,
			message.Text,
			string(message.Sender),
			message.Timestamp,
			message.IsTyping,
			meta,
		)
		if err != nil {
			return err
		}
		return r.notifyChange(ctx, tx, message.SessionID)
	})
}

func (r *PgMessageRepository) List(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, text, sender, ts, is_typing, meta
		FROM messages
	`
	args := []interface{}{}
	if filter.SessionID != "" {
		query += ` WHERE session_id = $1`
		args = append(args, filter.SessionID)
	}
	query += ` ORDER BY ts ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var sessionIDValue *string
		var sender string
		var meta []byte

		err = rows.Scan(
			&msg.ID,
			&sessionIDValue,
			&msg.Text,
			&sender,
			&msg.Timestamp,
			&msg.IsTyping,
			&meta,
		)
		if err != nil {
			return nil, err
		}
		if sessionIDValue != nil {
			msg.SessionID = *sessionIDValue
		}
		msg.Sender = domain.Sender(sender)
		if len(meta) > 0 {
			var m domain.MessageMeta
			if err := json.Unmarshal(meta, &m); err != nil {
				return nil, err
			}
			msg.Meta = &m
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

func (r *PgMessageRepository) Delete(ctx context.Context, id string) (string, error) {
	const query = `DELETE FROM messages WHERE id = $1 RETURNING session_id`

	var sessionID *string
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, query, id).Scan(&sessionID); err != nil {
			return err
		}
		return r.notifyChange(ctx, tx, deref(sessionID))
	})
	if err != nil {
		return "", err
	}
	return deref(sessionID), nil
}

func (r *PgMessageRepository) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	const query = `DELETE FROM messages WHERE session_id = $1`

	var deleted int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, sessionID)
		if err != nil {
			return err
		}
		deleted = tag.RowsAffected()
		return r.notifyChange(ctx, tx, sessionID)
	})
	return deleted, err
}

func (r *PgMessageRepository) notifyChange(ctx context.Context, tx pgx.Tx, sessionID string) error {
	if !r.notify {
		return nil
	}
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, TranscriptChannel, sessionID)
	return err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// MemoryMessageRepository guarda el transcript en memoria. Útil para la CLI y tests.
type MemoryMessageRepository struct {
	mu       sync.Mutex
	messages map[string]domain.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[string]domain.Message)}
}

func (r *MemoryMessageRepository) Create(_ context.Context, message domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.Meta != nil {
		meta := *message.Meta
		meta.Options = append([]string(nil), meta.Options...)
		message.Meta = &meta
	}
	r.messages[message.ID] = message
	return nil
}

func (r *MemoryMessageRepository) List(_ context.Context, filter domain.MessageFilter) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Message, 0, len(r.messages))
	for _, m := range r.messages {
		if filter.SessionID != "" && m.SessionID != filter.SessionID {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *MemoryMessageRepository) Delete(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return "", pgx.ErrNoRows
	}
	delete(r.messages, id)
	return m.SessionID, nil
}

func (r *MemoryMessageRepository) DeleteBySession(_ context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, m := range r.messages {
		if m.SessionID == sessionID {
			delete(r.messages, id)
			n++
		}
	}
	return n, nil
}
