package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"apoyo-citas/internal/domain"
	"apoyo-citas/internal/service"
)

const snapshotTimeout = 5 * time.Second

// ChatHandler expone el chatbot de apoyo emocional por HTTP y websocket.
type ChatHandler struct {
	logger   *zap.Logger
	registry *service.ConversationRegistry
	prefs    *service.PreferencesService
}

func NewChatHandler(logger *zap.Logger, registry *service.ConversationRegistry, prefs *service.PreferencesService) *ChatHandler {
	return &ChatHandler{
		logger:   logger,
		registry: registry,
		prefs:    prefs,
	}
}

// StartSession maneja POST /chat/sessions.
func (h *ChatHandler) StartSession(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	conv, err := h.registry.Start(c.Request.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("start chat session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": conv.SessionID(), "state": conv.State()})
}

// EndSession maneja DELETE /chat/sessions/:id.
func (h *ChatHandler) EndSession(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.registry.End(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		if h.writeConversationError(c, err) {
			return
		}
		h.logger.Error("end chat session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not end session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages maneja GET /chat/sessions/:id/messages.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	msgs, err := conv.Snapshot(c.Request.Context(), snapshotTimeout)
	if err != nil {
		h.logger.Warn("transcript snapshot failed", zap.String("session_id", conv.SessionID()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "transcript unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": toMessageViews(msgs)})
}

// PostMessage maneja POST /chat/sessions/:id/messages.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat message request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	h.send(c, req.Text)
}

// SelectOption maneja POST /chat/sessions/:id/options.
func (h *ChatHandler) SelectOption(c *gin.Context) {
	var req struct {
		Option string `json:"option" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat option request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	h.send(c, req.Option)
}

func (h *ChatHandler) send(c *gin.Context, text string) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	if err := conv.Send(c.Request.Context(), text); err != nil {
		if errors.Is(err, service.ErrConversationClosed) {
			c.JSON(http.StatusGone, gin.H{"error": "session ended"})
			return
		}
		h.logger.Error("chat send failed", zap.String("session_id", conv.SessionID()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not send message, please try again"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"state": conv.State()})
}

// GetState maneja GET /chat/sessions/:id/state.
func (h *ChatHandler) GetState(c *gin.Context) {
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": conv.State()})
}

// PatchState maneja PATCH /chat/sessions/:id/state (tema y ventana minimizada).
func (h *ChatHandler) PatchState(c *gin.Context) {
	var req struct {
		DarkMode  *bool `json:"dark_mode"`
		Minimized *bool `json:"minimized"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid chat state request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	conv, ok := h.conversation(c)
	if !ok {
		return
	}
	if req.DarkMode != nil {
		if err := conv.SetDarkMode(c.Request.Context(), *req.DarkMode); err != nil {
			h.logger.Warn("persist dark mode failed", zap.String("user_id", conv.UserID()), zap.Error(err))
		}
	}
	if req.Minimized != nil {
		conv.SetMinimized(*req.Minimized)
	}
	c.JSON(http.StatusOK, gin.H{"state": conv.State()})
}

// GetPreferences maneja GET /chat/preferences.
func (h *ChatHandler) GetPreferences(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": h.prefs.Get(c.Request.Context(), claims.UserID)})
}

// PutPreferences maneja PUT /chat/preferences.
func (h *ChatHandler) PutPreferences(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var prefs domain.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		h.logger.Warn("invalid preferences request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := h.prefs.Set(c.Request.Context(), claims.UserID, prefs); err != nil {
		h.logger.Error("save preferences failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save preferences"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

// Stream maneja GET /chat/sessions/:id/ws: empuja snapshots del transcript y
// del estado, y acepta frames {"type":"send"}. Cuando se cierra el último
// websocket de la sesión, la sesión termina.
func (h *ChatHandler) Stream(c *gin.Context) {
	if _, ok := h.conversation(c); !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ws := &wsConn{conn: conn, logger: h.logger}

	claims, _ := GetAuthClaims(c)
	conv, release, err := h.registry.Attach(claims.UserID, c.Param("id"))
	if err != nil {
		_ = ws.write(errorFrame{Type: "error", Error: "session ended"})
		ws.close()
		return
	}
	defer release()
	defer ws.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := conv.Messages(ctx)
	if err != nil {
		_ = ws.write(errorFrame{Type: "error", Error: "transcript unavailable"})
		return
	}
	defer sub.Cancel()
	states, stopStates := conv.WatchState()
	defer stopStates()

	sendErrs := make(chan error, 1)
	go ws.readLoop(cancel, func(frame inboundFrame) {
		if frame.Type != "send" {
			return
		}
		if err := conv.Send(ctx, frame.Text); err != nil {
			select {
			case sendErrs <- err:
			default:
			}
		}
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case msgs, ok := <-sub.C:
			if !ok {
				return
			}
			err = ws.write(snapshotFrame{Type: "snapshot", Messages: toMessageViews(msgs)})
		case st, ok := <-states:
			if !ok {
				return
			}
			err = ws.write(stateFrame{Type: "state", State: st})
		case sendErr := <-sendErrs:
			msg := "could not send message, please try again"
			if errors.Is(sendErr, service.ErrConversationClosed) {
				msg = "session ended"
			}
			err = ws.write(errorFrame{Type: "error", Error: msg})
		case <-ticker.C:
			err = ws.ping()
		}
		if err != nil {
			h.logger.Debug("websocket write failed", zap.String("session_id", conv.SessionID()), zap.Error(err))
			return
		}
	}
}

func (h *ChatHandler) conversation(c *gin.Context) (*service.Conversation, bool) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	conv, err := h.registry.Get(claims.UserID, c.Param("id"))
	if err != nil {
		if !h.writeConversationError(c, err) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load session"})
		}
		return nil, false
	}
	return conv, true
}

func (h *ChatHandler) writeConversationError(c *gin.Context, err error) bool {
	switch {
	case errors.Is(err, service.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, service.ErrConversationForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		return false
	}
	return true
}
