package domain

import "time"

// EmotionCategory es el resultado cerrado del clasificador.
type EmotionCategory string

const (
	EmotionCrisis     EmotionCategory = "crisis"
	EmotionAnxiety    EmotionCategory = "anxiety"
	EmotionStress     EmotionCategory = "stress"
	EmotionDepression EmotionCategory = "depression"
	EmotionOther      EmotionCategory = "other"
)

// Intent enruta mensajes sin carga emocional (categoría other).
type Intent string

const (
	IntentNone        Intent = ""
	IntentAppointment Intent = "appointment"
	IntentResources   Intent = "resources"
	IntentFarewell    Intent = "farewell"
)

// ResponseTemplate es una entrada fija del catálogo de respuestas.
type ResponseTemplate struct {
	Text      string   `json:"text"`
	Options   []string `json:"options"`
	Emergency bool     `json:"emergency"`
}

// SessionContext guarda el último estado emocional de una sesión de chat.
type SessionContext struct {
	SessionID   string          `json:"sessionId"`
	LastMessage string          `json:"lastMessage,omitempty"`
	LastEmotion EmotionCategory `json:"lastEmotion,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitempty"`
}

// CrisisEscalation se publica cuando el bot entrega una respuesta de emergencia.
type CrisisEscalation struct {
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id,omitempty"`
	MessageID  string    `json:"message_id"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}
