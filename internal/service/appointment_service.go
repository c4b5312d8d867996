package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/email"
	"apoyo-citas/internal/realtime"
	"apoyo-citas/internal/repository"
)

var (
	ErrAppointmentNotConfigured = errors.New("appointment service not configured")
	ErrAppointmentNotFound      = errors.New("appointment not found")
	ErrAppointmentForbidden     = errors.New("appointment belongs to another user")
	ErrAppointmentNotPending    = errors.New("appointment is no longer pending")
	ErrAppointmentInvalid       = errors.New("appointment invalid input")
)

const maxReasonLen = 500

type AppointmentInput struct {
	Reason string
	Date   time.Time
}

// AppointmentService gestiona las citas de los estudiantes y el panel de admin.
type AppointmentService struct {
	logger      *zap.Logger
	repo        repository.AppointmentRepository
	feed        *realtime.Feed
	emailSender email.Sender
	now         func() time.Time
}

func NewAppointmentService(logger *zap.Logger, repo repository.AppointmentRepository, feed *realtime.Feed, emailSender email.Sender) *AppointmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if feed == nil {
		feed = realtime.NewFeed()
	}
	return &AppointmentService{
		logger:      logger,
		repo:        repo,
		feed:        feed,
		emailSender: emailSender,
		now:         time.Now,
	}
}

func (s *AppointmentService) Create(ctx context.Context, user domain.User, input AppointmentInput) (domain.Appointment, error) {
	if s == nil || s.repo == nil {
		return domain.Appointment{}, ErrAppointmentNotConfigured
	}
	input, err := normalizeAppointmentInput(input)
	if err != nil {
		return domain.Appointment{}, err
	}
	if strings.TrimSpace(user.ID) == "" {
		return domain.Appointment{}, ErrUserNotFound
	}

	now := s.now().UTC()
	appt := domain.Appointment{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		UserEmail: user.Email,
		Reason:    input.Reason,
		Date:      input.Date,
		Status:    domain.AppointmentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, appt); err != nil {
		return domain.Appointment{}, err
	}
	s.publish(appt.UserID)
	return appt, nil
}

// ListMine devuelve las citas del usuario ordenadas por fecha.
func (s *AppointmentService) ListMine(ctx context.Context, userID string) ([]domain.Appointment, error) {
	if s == nil || s.repo == nil {
		return nil, ErrAppointmentNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return []domain.Appointment{}, nil
	}
	return s.repo.List(ctx, userID, "")
}

// Update cambia motivo y fecha; sólo mientras la cita siga pendiente.
func (s *AppointmentService) Update(ctx context.Context, userID, id string, input AppointmentInput) (domain.Appointment, error) {
	input, err := normalizeAppointmentInput(input)
	if err != nil {
		return domain.Appointment{}, err
	}
	appt, err := s.ownPending(ctx, userID, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	appt.Reason = input.Reason
	appt.Date = input.Date
	return s.savePending(ctx, appt)
}

func (s *AppointmentService) Cancel(ctx context.Context, userID, id string) (domain.Appointment, error) {
	appt, err := s.ownPending(ctx, userID, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	appt.Status = domain.AppointmentCancelled
	return s.savePending(ctx, appt)
}

func (s *AppointmentService) Delete(ctx context.Context, userID, id string) error {
	appt, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if appt.UserID != userID {
		return ErrAppointmentForbidden
	}
	if err := s.repo.Delete(ctx, appt.ID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAppointmentNotFound
		}
		return err
	}
	s.publish(appt.UserID)
	return nil
}

// ListAll es la vista de admin. status vacío o "all" no filtra.
func (s *AppointmentService) ListAll(ctx context.Context, status string) ([]domain.Appointment, error) {
	if s == nil || s.repo == nil {
		return nil, ErrAppointmentNotConfigured
	}
	status, err := normalizeStatusFilter(status)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, "", status)
}

// SetStatus acepta o cancela una cita y avisa al estudiante por correo.
func (s *AppointmentService) SetStatus(ctx context.Context, id, status string) (domain.Appointment, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != domain.AppointmentAccepted && status != domain.AppointmentCancelled {
		return domain.Appointment{}, ErrAppointmentInvalid
	}
	appt, err := s.get(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	if appt.Status == status {
		return appt, nil
	}
	appt, err = s.repo.UpdateStatus(ctx, appt.ID, status, s.now().UTC())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Appointment{}, ErrAppointmentNotFound
		}
		return domain.Appointment{}, err
	}
	s.publish(appt.UserID)

	if s.emailSender != nil && appt.UserEmail != "" {
		if err := s.emailSender.SendAppointmentStatus(ctx, appt.UserEmail, appt); err != nil {
			s.logger.Warn("appointment status email failed", zap.String("appointment_id", appt.ID), zap.Error(err))
		}
	}
	s.logger.Info("appointment status changed", zap.String("appointment_id", appt.ID), zap.String("status", status))
	return appt, nil
}

// Watch emite la lista completa de citas de userID (todas si userID es vacío)
// en cada cambio.
func (s *AppointmentService) Watch(ctx context.Context, userID, status string) (*realtime.Subscription[domain.Appointment], error) {
	if s == nil || s.repo == nil {
		return nil, ErrAppointmentNotConfigured
	}
	status, err := normalizeStatusFilter(status)
	if err != nil {
		return nil, err
	}
	load := func(ctx context.Context) ([]domain.Appointment, error) {
		return s.repo.List(ctx, userID, status)
	}
	onError := func(err error) {
		s.logger.Warn("appointment snapshot failed", zap.String("user_id", userID), zap.Error(err))
	}
	return realtime.Watch(ctx, s.feed, appointmentTopic(userID), load, onError), nil
}

func (s *AppointmentService) get(ctx context.Context, id string) (domain.Appointment, error) {
	if s == nil || s.repo == nil {
		return domain.Appointment{}, ErrAppointmentNotConfigured
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Appointment{}, ErrAppointmentNotFound
	}
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Appointment{}, ErrAppointmentNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (s *AppointmentService) ownPending(ctx context.Context, userID, id string) (domain.Appointment, error) {
	appt, err := s.get(ctx, id)
	if err != nil {
		return domain.Appointment{}, err
	}
	if appt.UserID != userID {
		return domain.Appointment{}, ErrAppointmentForbidden
	}
	if appt.Status != domain.AppointmentPending {
		return domain.Appointment{}, ErrAppointmentNotPending
	}
	return appt, nil
}

// savePending escribe la cita sólo si sigue pendiente en el repositorio; una
// decisión del admin tomada entre la lectura y la escritura gana.
func (s *AppointmentService) savePending(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	appt.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdatePending(ctx, appt); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			if _, getErr := s.get(ctx, appt.ID); errors.Is(getErr, ErrAppointmentNotFound) {
				return domain.Appointment{}, ErrAppointmentNotFound
			}
			return domain.Appointment{}, ErrAppointmentNotPending
		}
		return domain.Appointment{}, err
	}
	s.publish(appt.UserID)
	return appt, nil
}

func (s *AppointmentService) publish(userID string) {
	s.feed.Publish(appointmentTopic(""), appointmentTopic(userID))
}

func appointmentTopic(userID string) string {
	if userID == "" {
		return "appointments"
	}
	return "appointments:" + userID
}

func normalizeAppointmentInput(input AppointmentInput) (AppointmentInput, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" || len([]rune(input.Reason)) > maxReasonLen || input.Date.IsZero() {
		return AppointmentInput{}, ErrAppointmentInvalid
	}
	input.Date = input.Date.UTC()
	return input, nil
}

func normalizeStatusFilter(status string) (string, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" || status == "all" {
		return "", nil
	}
	if !domain.ValidAppointmentStatus(status) {
		return "", ErrAppointmentInvalid
	}
	return status, nil
}
