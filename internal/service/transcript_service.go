package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/realtime"
	"apoyo-citas/internal/repository"
)

var (
	ErrTranscriptNotConfigured = errors.New("transcript service not configured")
	ErrMessageNotFound         = errors.New("message not found")
	ErrMessageInvalidInput     = errors.New("message invalid input")
)

// TranscriptService sincroniza el transcript del chatbot: escrituras,
// borrados y suscripciones con snapshots completos ordenados por timestamp.
type TranscriptService struct {
	logger  *zap.Logger
	repo    repository.MessageRepository
	feed    *realtime.Feed
	catalog ResponseCatalog
	now     func() time.Time

	mu     sync.Mutex
	lastTS map[string]int64
	// sealed marca transcripts ya sembrados o purgados: no se vuelven a saludar.
	sealed map[string]struct{}
}

func NewTranscriptService(logger *zap.Logger, repo repository.MessageRepository, feed *realtime.Feed) *TranscriptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if feed == nil {
		feed = realtime.NewFeed()
	}
	return &TranscriptService{
		logger:  logger,
		repo:    repo,
		feed:    feed,
		catalog: DefaultResponseCatalog,
		now:     time.Now,
		lastTS:  make(map[string]int64),
		sealed:  make(map[string]struct{}),
	}
}

// Append guarda un mensaje nuevo y devuelve el id asignado.
func (s *TranscriptService) Append(ctx context.Context, msg domain.Message) (string, error) {
	if s == nil || s.repo == nil {
		return "", ErrTranscriptNotConfigured
	}
	if msg.Sender != domain.SenderUser && msg.Sender != domain.SenderBot {
		return "", ErrMessageInvalidInput
	}
	if !msg.IsTyping && strings.TrimSpace(msg.Text) == "" {
		return "", ErrMessageInvalidInput
	}

	msg.ID = uuid.NewString()
	msg.SessionID = strings.TrimSpace(msg.SessionID)
	msg.Timestamp = s.nextTimestamp(msg.SessionID)

	if err := s.repo.Create(ctx, msg); err != nil {
		return "", err
	}
	s.publish(msg.SessionID)
	return msg.ID, nil
}

// Remove borra un mensaje (en la práctica, el placeholder de "escribiendo").
func (s *TranscriptService) Remove(ctx context.Context, id string) error {
	if s == nil || s.repo == nil {
		return ErrTranscriptNotConfigured
	}
	sessionID, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMessageNotFound
		}
		return err
	}
	s.publish(sessionID)
	return nil
}

// PurgeSession borra todos los mensajes de la sesión en un único lote atómico.
func (s *TranscriptService) PurgeSession(ctx context.Context, sessionID string) error {
	if s == nil || s.repo == nil {
		return ErrTranscriptNotConfigured
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrMessageInvalidInput
	}

	s.mu.Lock()
	s.sealed[domain.MessageFilter{SessionID: sessionID}.Topic()] = struct{}{}
	s.mu.Unlock()

	n, err := s.repo.DeleteBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.logger.Info("transcript purged", zap.String("session_id", sessionID), zap.Int64("deleted", n))

	s.mu.Lock()
	delete(s.lastTS, sessionID)
	s.mu.Unlock()

	s.publish(sessionID)
	return nil
}

// Forget libera el estado por sesión (marca de saludo y último timestamp) de
// una sesión terminada.
func (s *TranscriptService) Forget(sessionID string) {
	if s == nil {
		return
	}
	sessionID = strings.TrimSpace(sessionID)
	s.mu.Lock()
	delete(s.sealed, domain.MessageFilter{SessionID: sessionID}.Topic())
	delete(s.lastTS, sessionID)
	s.mu.Unlock()
}

// List devuelve el snapshot actual sin efectos secundarios.
func (s *TranscriptService) List(ctx context.Context, filter domain.MessageFilter) ([]domain.Message, error) {
	if s == nil || s.repo == nil {
		return nil, ErrTranscriptNotConfigured
	}
	return s.repo.List(ctx, filter)
}

// Watch abre una suscripción de snapshots completos. Si el primer snapshot
// está vacío se inserta un saludo, una sola vez por transcript.
func (s *TranscriptService) Watch(ctx context.Context, filter domain.MessageFilter) (*realtime.Subscription[domain.Message], error) {
	if s == nil || s.repo == nil {
		return nil, ErrTranscriptNotConfigured
	}
	filter.SessionID = strings.TrimSpace(filter.SessionID)

	first := true
	load := func(ctx context.Context) ([]domain.Message, error) {
		msgs, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		if !first {
			return msgs, nil
		}
		first = false
		if len(msgs) > 0 {
			s.seal(filter)
			return msgs, nil
		}
		seeded, err := s.seedGreeting(ctx, filter)
		if err != nil {
			s.logger.Warn("greeting seed failed", zap.String("topic", filter.Topic()), zap.Error(err))
			return msgs, nil
		}
		if !seeded {
			return msgs, nil
		}
		return s.repo.List(ctx, filter)
	}
	onError := func(err error) {
		s.logger.Warn("transcript snapshot failed", zap.String("topic", filter.Topic()), zap.Error(err))
	}
	return realtime.Watch(ctx, s.feed, filter.Topic(), load, onError), nil
}

// Notify reenvía una notificación externa (p. ej. LISTEN de Postgres).
func (s *TranscriptService) Notify(sessionID string) {
	s.publish(strings.TrimSpace(sessionID))
}

func (s *TranscriptService) seal(filter domain.MessageFilter) {
	s.mu.Lock()
	s.sealed[filter.Topic()] = struct{}{}
	s.mu.Unlock()
}

func (s *TranscriptService) seedGreeting(ctx context.Context, filter domain.MessageFilter) (bool, error) {
	key := filter.Topic()
	s.mu.Lock()
	if _, done := s.sealed[key]; done {
		s.mu.Unlock()
		return false, nil
	}
	s.sealed[key] = struct{}{}
	s.mu.Unlock()

	greeting := s.catalog.Greeting(s.now())
	_, err := s.Append(ctx, domain.Message{
		Text:      greeting.Text,
		Sender:    domain.SenderBot,
		SessionID: filter.SessionID,
		Meta:      &domain.MessageMeta{Options: greeting.Options},
	})
	if err != nil {
		s.mu.Lock()
		delete(s.sealed, key)
		s.mu.Unlock()
		return false, err
	}
	return true, nil
}

// nextTimestamp garantiza timestamps estrictamente crecientes por sesión.
func (s *TranscriptService) nextTimestamp(sessionID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixMilli()
	if last, ok := s.lastTS[sessionID]; ok && ts <= last {
		ts = last + 1
	}
	s.lastTS[sessionID] = ts
	return ts
}

func (s *TranscriptService) publish(sessionID string) {
	topics := []string{domain.MessageFilter{}.Topic()}
	if sessionID != "" {
		topics = append(topics, domain.MessageFilter{SessionID: sessionID}.Topic())
	}
	s.feed.Publish(topics...)
}
