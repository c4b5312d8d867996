package domain

// ConversationState es el estado observable de una sesión de chat.
type ConversationState struct {
	SessionID           string `json:"session_id"`
	Typing              bool   `json:"typing"`
	QuickRepliesVisible bool   `json:"quick_replies_visible"`
	DarkMode            bool   `json:"dark_mode"`
	Minimized           bool   `json:"minimized"`
	Pending             int    `json:"pending"`
	LastError           string `json:"last_error,omitempty"`
}

// Preferences son las preferencias de UI persistidas por usuario.
type Preferences struct {
	DarkMode bool `json:"dark_mode"`
}
