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

// AppointmentHandler expone las citas del estudiante y el panel de admin.
type AppointmentHandler struct {
	logger   *zap.Logger
	apptServ *service.AppointmentService
}

func NewAppointmentHandler(logger *zap.Logger, apptServ *service.AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{logger: logger, apptServ: apptServ}
}

type appointmentRequest struct {
	Reason string    `json:"reason" binding:"required"`
	Date   time.Time `json:"date" binding:"required"`
}

// Create maneja POST /appointments.
func (h *AppointmentHandler) Create(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req appointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid create appointment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	user := domain.User{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
	appt, err := h.apptServ.Create(c.Request.Context(), user, service.AppointmentInput{Reason: req.Reason, Date: req.Date})
	if err != nil {
		h.writeError(c, "create appointment failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"appointment": appt})
}

// ListMine maneja GET /appointments.
func (h *AppointmentHandler) ListMine(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	appts, err := h.apptServ.ListMine(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, "list appointments failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": appts})
}

// Update maneja PUT /appointments/:id.
func (h *AppointmentHandler) Update(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req appointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid update appointment request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	appt, err := h.apptServ.Update(c.Request.Context(), claims.UserID, c.Param("id"), service.AppointmentInput{Reason: req.Reason, Date: req.Date})
	if err != nil {
		h.writeError(c, "update appointment failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": appt})
}

// Cancel maneja POST /appointments/:id/cancel.
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	appt, err := h.apptServ.Cancel(c.Request.Context(), claims.UserID, c.Param("id"))
	if err != nil {
		h.writeError(c, "cancel appointment failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": appt})
}

// Delete maneja DELETE /appointments/:id.
func (h *AppointmentHandler) Delete(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.apptServ.Delete(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		h.writeError(c, "delete appointment failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListAll maneja GET /admin/appointments?status=.
func (h *AppointmentHandler) ListAll(c *gin.Context) {
	appts, err := h.apptServ.ListAll(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.writeError(c, "list all appointments failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointments": appts})
}

// SetStatus maneja PATCH /admin/appointments/:id/status.
func (h *AppointmentHandler) SetStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid appointment status request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	appt, err := h.apptServ.SetStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.writeError(c, "set appointment status failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appointment": appt})
}

// StreamMine maneja GET /appointments/ws.
func (h *AppointmentHandler) StreamMine(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	h.stream(c, claims.UserID, "")
}

// StreamAll maneja GET /admin/appointments/ws?status=.
func (h *AppointmentHandler) StreamAll(c *gin.Context) {
	h.stream(c, "", c.Query("status"))
}

func (h *AppointmentHandler) stream(c *gin.Context, userID, status string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := h.apptServ.Watch(ctx, userID, status)
	if err != nil {
		h.writeError(c, "watch appointments failed", err)
		return
	}
	defer sub.Cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ws := &wsConn{conn: conn, logger: h.logger}
	defer ws.close()

	go ws.readLoop(cancel, nil)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case appts, ok := <-sub.C:
			if !ok {
				return
			}
			err = ws.write(appointmentsFrame{Type: "snapshot", Appointments: appts})
		case <-ticker.C:
			err = ws.ping()
		}
		if err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (h *AppointmentHandler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrAppointmentInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid appointment"})
	case errors.Is(err, service.ErrAppointmentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "appointment not found"})
	case errors.Is(err, service.ErrAppointmentForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrAppointmentNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": "appointment is no longer pending"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
