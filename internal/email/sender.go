package email

import (
	"context"
	"errors"
	"fmt"

	"apoyo-citas/internal/domain"
)

// Sender define la interfaz para avisos de citas por correo.
type Sender interface {
	SendAppointmentStatus(ctx context.Context, toEmail string, appt domain.Appointment) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendAppointmentStatus(_ context.Context, _ string, _ domain.Appointment) error {
	if s.reason == "" {
		return errors.New("email sender disabled")
	}
	return errors.New(s.reason)
}

var statusLabels = map[string]string{
	domain.AppointmentPending:   "pendiente",
	domain.AppointmentAccepted:  "aceptada",
	domain.AppointmentCancelled: "cancelada",
}

func appointmentStatusBody(appt domain.Appointment) (string, string) {
	label, ok := statusLabels[appt.Status]
	if !ok {
		label = appt.Status
	}
	subject := fmt.Sprintf("Tu cita fue %s", label)
	body := fmt.Sprintf(
		"Hola,\n\nTu cita del %s (motivo: %s) ahora está %s.\n\nCentro de Apoyo Psicológico\n",
		appt.Date.UTC().Format("02/01/2006 15:04 UTC"),
		appt.Reason,
		label,
	)
	return subject, body
}
