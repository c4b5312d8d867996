package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/repository"
)

var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationForbidden = errors.New("conversation belongs to another user")
)

const (
	sessionLogTimeout = 3 * time.Second
	releaseTimeout    = 10 * time.Second
)

// ConversationRegistry mantiene una conversación viva por sesión de chat.
// Si hay repositorio, registra inicio y fin de cada sesión.
type ConversationRegistry struct {
	logger   *zap.Logger
	dialogue *DialogueService
	log      repository.ChatSessionRepository

	mu       sync.Mutex
	sessions map[string]*Conversation
}

func NewConversationRegistry(logger *zap.Logger, dialogue *DialogueService, sessionLog repository.ChatSessionRepository) *ConversationRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationRegistry{
		logger:   logger,
		dialogue: dialogue,
		log:      sessionLog,
		sessions: make(map[string]*Conversation),
	}
}

// Start abre una sesión nueva; el id combina el inicio de la sesión y un sufijo aleatorio.
func (r *ConversationRegistry) Start(ctx context.Context, userID string) (*Conversation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserNotFound
	}
	startedAt := r.dialogue.now().UTC()
	sessionID := fmt.Sprintf("%d-%s", startedAt.UnixMilli(), uuid.NewString()[:8])
	conv := r.dialogue.Open(ctx, sessionID, userID)

	if r.log != nil {
		if err := r.log.Create(ctx, domain.ChatSession{ID: sessionID, UserID: userID, StartedAt: startedAt}); err != nil {
			r.logger.Warn("chat session log failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	r.mu.Lock()
	r.sessions[sessionID] = conv
	r.mu.Unlock()

	r.logger.Info("chat session started", zap.String("session_id", sessionID), zap.String("user_id", userID))
	return conv, nil
}

// Get devuelve la conversación sólo si pertenece a userID.
func (r *ConversationRegistry) Get(userID, sessionID string) (*Conversation, error) {
	r.mu.Lock()
	conv, ok := r.sessions[strings.TrimSpace(sessionID)]
	r.mu.Unlock()
	if !ok {
		return nil, ErrConversationNotFound
	}
	if conv.userID != userID {
		return nil, ErrConversationForbidden
	}
	conv.touch()
	return conv, nil
}

// Attach registra un stream en vivo sobre la sesión. La función devuelta lo
// suelta; al soltar el último stream la sesión termina.
func (r *ConversationRegistry) Attach(userID, sessionID string) (*Conversation, func(), error) {
	r.mu.Lock()
	conv, ok := r.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		r.mu.Unlock()
		return nil, nil, ErrConversationNotFound
	}
	if conv.userID != userID {
		r.mu.Unlock()
		return nil, nil, ErrConversationForbidden
	}
	conv.attach()
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(conv) })
	}
	return conv, release, nil
}

func (r *ConversationRegistry) release(conv *Conversation) {
	r.mu.Lock()
	if conv.detach() > 0 || r.sessions[conv.sessionID] != conv {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, conv.sessionID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := r.close(ctx, conv); err != nil {
		return
	}
	r.logger.Info("chat session ended on disconnect", zap.String("session_id", conv.sessionID))
}

// Sweep termina las sesiones sin streams ni respuestas pendientes cuya última
// actividad tiene al menos idle de antigüedad. Devuelve cuántas cerró.
func (r *ConversationRegistry) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := r.dialogue.now().Add(-idle)

	r.mu.Lock()
	var expired []*Conversation
	for id, conv := range r.sessions {
		if conv.idleSince(cutoff) {
			expired = append(expired, conv)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, conv := range expired {
		if err := r.close(ctx, conv); err == nil {
			r.logger.Info("chat session expired", zap.String("session_id", conv.sessionID))
		}
	}
	return len(expired)
}

// RunSweeper ejecuta Sweep cada interval hasta que ctx termina. Con idle <= 0
// no hace nada.
func (r *ConversationRegistry) RunSweeper(ctx context.Context, idle, interval time.Duration) {
	if idle <= 0 {
		return
	}
	if interval <= 0 {
		interval = idle / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx, idle); n > 0 {
				r.logger.Info("idle chat sessions swept", zap.Int("count", n), zap.Int("open", r.Len()))
			}
		}
	}
}

func (r *ConversationRegistry) End(ctx context.Context, userID, sessionID string) error {
	conv, err := r.Get(userID, sessionID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.sessions, conv.sessionID)
	r.mu.Unlock()

	if err := r.close(ctx, conv); err != nil {
		return err
	}
	r.logger.Info("chat session ended", zap.String("session_id", conv.sessionID))
	return nil
}

func (r *ConversationRegistry) close(ctx context.Context, conv *Conversation) error {
	if err := conv.Close(ctx); err != nil {
		r.logger.Warn("chat session close failed", zap.String("session_id", conv.sessionID), zap.Error(err))
		return err
	}
	if r.log == nil {
		return nil
	}
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionLogTimeout)
	defer cancel()
	if err := r.log.End(logCtx, conv.sessionID, r.dialogue.now().UTC()); err != nil {
		r.logger.Warn("chat session log failed", zap.String("session_id", conv.sessionID), zap.Error(err))
	}
	return nil
}

func (r *ConversationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown cierra todas las sesiones abiertas.
func (r *ConversationRegistry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	convs := make([]*Conversation, 0, len(r.sessions))
	for id, conv := range r.sessions {
		convs = append(convs, conv)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, conv := range convs {
		wg.Add(1)
		go func(conv *Conversation) {
			defer wg.Done()
			_ = r.close(ctx, conv)
		}(conv)
	}
	wg.Wait()
}
