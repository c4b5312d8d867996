package http

import (
	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/service"
)

// messageView agrega el HTML seguro que el cliente puede insertar tal cual.
type messageView struct {
	domain.Message
	HTML string `json:"html"`
}

func toMessageViews(msgs []domain.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{Message: m, HTML: service.RenderSafe(m.Text)})
	}
	return out
}
