package domain

import "time"

const (
	AppointmentPending   = "pending"
	AppointmentAccepted  = "accepted"
	AppointmentCancelled = "cancelled"
)

type Appointment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	Reason    string    `json:"reason"`
	Date      time.Time `json:"date"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidAppointmentStatus indica si el estado es uno de los conocidos.
func ValidAppointmentStatus(status string) bool {
	switch status {
	case AppointmentPending, AppointmentAccepted, AppointmentCancelled:
		return true
	}
	return false
}
