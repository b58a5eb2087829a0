package model

import (
	"time"
)

// Appointment is the durable reservation record. OTP, OTPExpiresAt,
// LockToken and OTPAttempts are populated only while Status is Pending
// and are cleared on confirmation. They never leave the service in
// JSON responses.
type Appointment struct {
	ID           string     `json:"id,omitempty" bson:"_id,omitempty"`
	UserID       string     `json:"user_id" bson:"user_id"`
	DoctorID     string     `json:"doctor_id" bson:"doctor_id"`
	SlotTime     time.Time  `json:"slot_time" bson:"slot_time"`
	Status       string     `json:"status" bson:"status"`
	OTP          string     `json:"-" bson:"otp,omitempty"`
	OTPExpiresAt *time.Time `json:"-" bson:"otp_expires_at,omitempty"`
	LockToken    string     `json:"-" bson:"lock_token,omitempty"`
	OTPAttempts  int        `json:"-" bson:"otp_attempts,omitempty"`
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
}

// Reservation is the lock response: the claim on a slot awaiting OTP
// confirmation. OTP is only serialized in echo (non-production) mode;
// the field is blanked otherwise.
type Reservation struct {
	AppointmentID string    `json:"appointment_id"`
	DoctorID      string    `json:"doctor_id"`
	UserID        string    `json:"user_id"`
	SlotTime      time.Time `json:"slot_time"`
	OTP           string    `json:"otp,omitempty"`
	OTPExpiresAt  time.Time `json:"otp_expires_at"`
}

type LockRequest struct {
	UserID   string    `json:"user_id" validate:"required,mongodb"`
	DoctorID string    `json:"doctor_id" validate:"required,mongodb"`
	SlotTime time.Time `json:"slot_time" validate:"required"`
}

type ConfirmRequest struct {
	UserID   string `json:"user_id" validate:"required,mongodb"`
	DoctorID string `json:"doctor_id" validate:"required,mongodb"`
	OTP      string `json:"otp" validate:"required,len=6,numeric"`
}

type RescheduleRequest struct {
	NewSlotTime time.Time `json:"new_slot_time" validate:"required"`
}
