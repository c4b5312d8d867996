package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
)

const (
	// Tiempo máximo para escribir un frame.
	writeWait = 10 * time.Second

	// Tiempo máximo sin pong del cliente.
	pongWait = 60 * time.Second

	// Debe ser menor que pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxInboundSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type snapshotFrame struct {
	Type     string        `json:"type"`
	Messages []messageView `json:"messages"`
}

type appointmentsFrame struct {
	Type         string               `json:"type"`
	Appointments []domain.Appointment `json:"appointments"`
}

type stateFrame struct {
	Type  string                   `json:"type"`
	State domain.ConversationState `json:"state"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type inboundFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wsConn envuelve la conexión; sólo la goroutine del handler escribe.
type wsConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
}

func (w *wsConn) write(frame any) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(frame)
}

func (w *wsConn) ping() error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

// readLoop lee frames hasta que el cliente se va y entonces llama a done.
func (w *wsConn) readLoop(done func(), onFrame func(inboundFrame)) {
	defer done()
	w.conn.SetReadLimit(maxInboundSize)
	_ = w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		return w.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		if onFrame == nil {
			continue
		}
		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			w.logger.Debug("invalid websocket frame", zap.Error(err))
			continue
		}
		onFrame(frame)
	}
}

func (w *wsConn) close() {
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = w.conn.Close()
}
