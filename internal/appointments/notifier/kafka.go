package notifier

import (
	"context"
	"time"

	"medibook/pkg/kafka"
	"medibook/pkg/model"
)

const (
	EventOTPIssued         = "appointment.otp.issued"
	EventAppointmentBooked = "appointment.booked"

	sourceService = "appointments"
)

type otpIssuedEvent struct {
	AppointmentID string    `json:"appointment_id"`
	UserID        string    `json:"user_id"`
	DoctorID      string    `json:"doctor_id"`
	SlotTime      time.Time `json:"slot_time"`
	OTP           string    `json:"otp"`
	OTPExpiresAt  time.Time `json:"otp_expires_at"`
}

type bookedEvent struct {
	AppointmentID string    `json:"appointment_id"`
	UserID        string    `json:"user_id"`
	DoctorID      string    `json:"doctor_id"`
	SlotTime      time.Time `json:"slot_time"`
}

// kafkaNotifier publishes reservation events for the downstream
// notification service (SMS/email delivery happens there).
type kafkaNotifier struct {
	producer *kafka.Producer
}

func NewKafkaNotifier(brokers []string, topic string) (Notifier, error) {
	producer, err := kafka.NewProducer(brokers, topic)
	if err != nil {
		return nil, err
	}
	return &kafkaNotifier{producer: producer}, nil
}

func (n *kafkaNotifier) OTPIssued(ctx context.Context, res *model.Reservation) error {
	msg, err := kafka.NewMessage().
		WithKey(res.UserID).
		WithEventType(EventOTPIssued).
		WithCorrelationID(res.AppointmentID).
		WithSource(sourceService).
		WithValue(otpIssuedEvent{
			AppointmentID: res.AppointmentID,
			UserID:        res.UserID,
			DoctorID:      res.DoctorID,
			SlotTime:      res.SlotTime,
			OTP:           res.OTP,
			OTPExpiresAt:  res.OTPExpiresAt,
		}).
		Build()
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, msg)
}

func (n *kafkaNotifier) AppointmentBooked(ctx context.Context, appt *model.Appointment) error {
	msg, err := kafka.NewMessage().
		WithKey(appt.UserID).
		WithEventType(EventAppointmentBooked).
		WithCorrelationID(appt.ID).
		WithSource(sourceService).
		WithValue(bookedEvent{
			AppointmentID: appt.ID,
			UserID:        appt.UserID,
			DoctorID:      appt.DoctorID,
			SlotTime:      appt.SlotTime,
		}).
		Build()
	if err != nil {
		return err
	}
	return n.producer.Publish(ctx, msg)
}

func (n *kafkaNotifier) Close() error {
	return n.producer.Close()
}
