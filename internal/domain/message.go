package domain

// Sender identifica al autor de un mensaje del transcript.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// MessageMeta acompaña a las respuestas del bot.
type MessageMeta struct {
	Options   []string `json:"options"`
	Emergency bool     `json:"emergency"`
}

// Message es una entrada del transcript (colección "messages").
// Timestamp es un tiempo lógico en milisegundos, monótono por sesión.
type Message struct {
	ID        string       `json:"id"`
	Text      string       `json:"text"`
	Sender    Sender       `json:"sender"`
	Timestamp int64        `json:"timestamp"`
	SessionID string       `json:"sessionId,omitempty"`
	IsTyping  bool         `json:"isTyping,omitempty"`
	Meta      *MessageMeta `json:"meta,omitempty"`
}

// Options devuelve las respuestas rápidas adjuntas, o nil.
func (m Message) Options() []string {
	if m.Meta == nil {
		return nil
	}
	return m.Meta.Options
}

// MessageFilter acota un snapshot del transcript. SessionID vacío = transcript global.
type MessageFilter struct {
	SessionID string
}

// Topic es la clave de notificación para el filtro.
func (f MessageFilter) Topic() string {
	if f.SessionID == "" {
		return "messages"
	}
	return "messages:" + f.SessionID
}
