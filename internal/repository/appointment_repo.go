package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"apoyo-citas/internal/domain"
)

// ErrNotPending indica que la cita cambió de estado antes de la escritura.
var ErrNotPending = errors.New("appointment no longer pending")

type AppointmentRepository interface {
	Create(ctx context.Context, appt domain.Appointment) error
	GetByID(ctx context.Context, id string) (domain.Appointment, error)
	// List devuelve citas ordenadas por fecha. userID o status vacíos no filtran.
	List(ctx context.Context, userID, status string) ([]domain.Appointment, error)
	// UpdatePending guarda motivo, fecha y estado sólo si la cita sigue
	// pendiente y pertenece a appt.UserID. Si no, ErrNotPending.
	UpdatePending(ctx context.Context, appt domain.Appointment) error
	// UpdateStatus cambia sólo el estado y devuelve la fila resultante.
	UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time) (domain.Appointment, error)
	Delete(ctx context.Context, id string) error
}

type PgAppointmentRepository struct {
	pool *pgxpool.Pool
}

func NewPgAppointmentRepository(pool *pgxpool.Pool) *PgAppointmentRepository {
	return &PgAppointmentRepository{pool: pool}
}

func (r *PgAppointmentRepository) Create(ctx context.Context, appt domain.Appointment) error {
	const query = `
		INSERT INTO appointments (id, user_id, user_email, reason, date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		appt.ID,
		appt.UserID,
		appt.UserEmail,
		appt.Reason,
		appt.Date,
		appt.Status,
		appt.CreatedAt,
		appt.UpdatedAt,
	)
	return err
}

func (r *PgAppointmentRepository) GetByID(ctx context.Context, id string) (domain.Appointment, error) {
	const query = `
		SELECT id, user_id, user_email, reason, date, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`
	var a domain.Appointment
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.UserID,
		&a.UserEmail,
		&a.Reason,
		&a.Date,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Appointment{}, err
	}
	return a, err
}

func (r *PgAppointmentRepository) List(ctx context.Context, userID, status string) ([]domain.Appointment, error) {
	const query = `
		SELECT id, user_id, user_email, reason, date, status, created_at, updated_at
		FROM appointments
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY date ASC
	`
	rows, err := r.pool.Query(ctx, query, userID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Appointment{}
	for rows.Next() {
		var a domain.Appointment
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.UserEmail,
			&a.Reason,
			&a.Date,
			&a.Status,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgAppointmentRepository) UpdatePending(ctx context.Context, appt domain.Appointment) error {
	const query = `
		UPDATE appointments
		SET reason = $3, date = $4, status = $5, updated_at = $6
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
	`
	tag, err := r.pool.Exec(ctx, query,
		appt.ID,
		appt.UserID,
		appt.Reason,
		appt.Date,
		appt.Status,
		appt.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

func (r *PgAppointmentRepository) UpdateStatus(ctx context.Context, id, status string, updatedAt time.Time) (domain.Appointment, error) {
	const query = `
		UPDATE appointments
		SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING id, user_id, user_email, reason, date, status, created_at, updated_at
	`
	var a domain.Appointment
	err := r.pool.QueryRow(ctx, query, id, status, updatedAt).Scan(
		&a.ID,
		&a.UserID,
		&a.UserEmail,
		&a.Reason,
		&a.Date,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return domain.Appointment{}, err
	}
	return a, nil
}

func (r *PgAppointmentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
