package notifier

import (
	"context"

	"medibook/pkg/logger"
	"medibook/pkg/model"
)

// Notifier is the out-of-band delivery channel for reservation
// events. The OTP itself travels only through this channel (or the
// dev-mode echo); the service never retries delivery.
type Notifier interface {
	OTPIssued(ctx context.Context, res *model.Reservation) error
	AppointmentBooked(ctx context.Context, appt *model.Appointment) error
	Close() error
}

// logNotifier stands in when no broker is configured. It logs the
// event without the code so a misconfigured environment cannot leak
// OTPs into log storage.
type logNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) Notifier {
	return &logNotifier{log: log}
}

func (n *logNotifier) OTPIssued(_ context.Context, res *model.Reservation) error {
	n.log.Info("OTP issued",
		"appointment_id", res.AppointmentID,
		"user_id", res.UserID,
		"doctor_id", res.DoctorID,
		"slot_time", res.SlotTime,
		"otp_expires_at", res.OTPExpiresAt,
	)
	return nil
}

func (n *logNotifier) AppointmentBooked(_ context.Context, appt *model.Appointment) error {
	n.log.Info("Appointment booked",
		"appointment_id", appt.ID,
		"user_id", appt.UserID,
		"doctor_id", appt.DoctorID,
		"slot_time", appt.SlotTime,
	)
	return nil
}

func (n *logNotifier) Close() error {
	return nil
}
