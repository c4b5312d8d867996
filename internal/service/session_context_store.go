package service

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
)

const maxContextMessageLen = 200

// SessionContextStore recuerda la última emoción y el último mensaje de una
// sesión. Es un cache de conveniencia: los fallos nunca llegan al usuario.
type SessionContextStore struct {
	kv        KVStore
	sessionID string
	ttl       time.Duration
	logger    *zap.Logger
}

func NewSessionContextStore(kv KVStore, sessionID string, ttl time.Duration, logger *zap.Logger) *SessionContextStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionContextStore{kv: kv, sessionID: sessionID, ttl: ttl, logger: logger}
}

func (s *SessionContextStore) key() string {
	return "chat:ctx:" + s.sessionID
}

// Load devuelve el contexto guardado o uno vacío si falta o está corrupto.
func (s *SessionContextStore) Load(ctx context.Context) domain.SessionContext {
	empty := domain.SessionContext{SessionID: s.sessionID}
	if s.kv == nil {
		return empty
	}
	raw, ok, err := s.kv.Get(ctx, s.key())
	if err != nil {
		s.logger.Debug("session context load failed", zap.String("session_id", s.sessionID), zap.Error(err))
		return empty
	}
	if !ok {
		return empty
	}
	var sc domain.SessionContext
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		s.logger.Debug("session context corrupt", zap.String("session_id", s.sessionID), zap.Error(err))
		return empty
	}
	sc.SessionID = s.sessionID
	return sc
}

// Save persiste el contexto; cualquier error se ignora.
func (s *SessionContextStore) Save(ctx context.Context, sc domain.SessionContext) {
	if s.kv == nil {
		return
	}
	sc.SessionID = s.sessionID
	sc.LastMessage = truncateRunes(sc.LastMessage, maxContextMessageLen)
	payload, err := json.Marshal(sc)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, s.key(), string(payload), s.ttl); err != nil {
		s.logger.Debug("session context save failed", zap.String("session_id", s.sessionID), zap.Error(err))
	}
}

func (s *SessionContextStore) Clear(ctx context.Context) {
	if s.kv == nil {
		return
	}
	if err := s.kv.Remove(ctx, s.key()); err != nil {
		s.logger.Debug("session context clear failed", zap.String("session_id", s.sessionID), zap.Error(err))
	}
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
