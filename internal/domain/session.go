package domain

import "time"

// ChatSession registra cuándo empezó y terminó una conversación. No guarda
// contenido: el transcript se purga al cerrar.
type ChatSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
