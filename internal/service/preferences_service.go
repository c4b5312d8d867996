package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"apoyo-citas/internal/domain"
)

var ErrPreferencesNotConfigured = errors.New("preferences service not configured")

// PreferencesService guarda preferencias de UI por usuario (modo oscuro).
type PreferencesService struct {
	kv KVStore
}

func NewPreferencesService(kv KVStore) *PreferencesService {
	return &PreferencesService{kv: kv}
}

// Get devuelve las preferencias guardadas o los valores por defecto.
func (s *PreferencesService) Get(ctx context.Context, userID string) domain.Preferences {
	if s == nil || s.kv == nil || strings.TrimSpace(userID) == "" {
		return domain.Preferences{}
	}
	raw, ok, err := s.kv.Get(ctx, "chat:prefs:"+userID)
	if err != nil || !ok {
		return domain.Preferences{}
	}
	var prefs domain.Preferences
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return domain.Preferences{}
	}
	return prefs
}

func (s *PreferencesService) Set(ctx context.Context, userID string, prefs domain.Preferences) error {
	if s == nil || s.kv == nil {
		return ErrPreferencesNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return ErrUserNotFound
	}
	payload, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, "chat:prefs:"+userID, string(payload), 0)
}
