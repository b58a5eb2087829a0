package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	apptserrors "medibook/internal/appointments/errors"
	"medibook/internal/appointments/notifier"
	"medibook/internal/appointments/repository"
	"medibook/internal/appointments/validator"
	"medibook/pkg/config"
	apperrors "medibook/pkg/errors"
	"medibook/pkg/model"
)

type AppointmentService interface {
	// Lock claims a slot exclusively and creates the durable Pending
	// reservation carrying its OTP. The returned Reservation includes
	// the OTP only when echo mode is on.
	Lock(ctx context.Context, req *model.LockRequest) (*model.Reservation, error)
	// Confirm turns the caller's Pending reservation into a Booked
	// appointment when the submitted OTP matches within its window.
	Confirm(ctx context.Context, req *model.ConfirmRequest) (*model.Appointment, error)
	Cancel(ctx context.Context, id string) (*model.Appointment, error)
	Reschedule(ctx context.Context, id string, newSlot time.Time) (*model.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID, userID string, limit int, offset int64) ([]*model.Appointment, error)
	// SweepExpired cancels every Pending reservation whose OTP window
	// has lapsed and releases its lock. Idempotent; returns the number
	// of reservations reclaimed.
	SweepExpired(ctx context.Context) (int, error)
}

type appointmentService struct {
	repo      repository.AppointmentRepository
	lockRepo  repository.SlotLockRepository
	validator *validator.AppointmentValidator
	notifier  notifier.Notifier
	cfg       *config.Config
}

func NewAppointmentService(
	repo repository.AppointmentRepository,
	lockRepo repository.SlotLockRepository,
	validator *validator.AppointmentValidator,
	notif notifier.Notifier,
	cfg *config.Config,
) AppointmentService {
	return &appointmentService{
		repo:      repo,
		lockRepo:  lockRepo,
		validator: validator,
		notifier:  notif,
		cfg:       cfg,
	}
}

func (s *appointmentService) Lock(ctx context.Context, req *model.LockRequest) (*model.Reservation, error) {
	if err := s.validator.ValidateLock(req); err != nil {
		s.cfg.Log.Warn("Lock request validation failed", "error", err)
		return nil, apperrors.Validation("Invalid lock request", map[string]any{"error": err.Error()})
	}

	slotTime := req.SlotTime.UTC()

	// One outstanding Pending reservation per (user, doctor): a second
	// lock would silently invalidate the first OTP.
	if _, err := s.repo.FindPendingByUserAndDoctor(ctx, req.UserID, req.DoctorID); err == nil {
		return nil, apperrors.Conflict("You already have a reservation pending confirmation for this doctor")
	} else if !errors.Is(err, apptserrors.ErrNotFound) {
		return nil, apperrors.Internal("Failed to check pending reservations", err)
	}

	if _, err := s.repo.FindActiveBySlot(ctx, req.DoctorID, slotTime); err == nil {
		return nil, apperrors.Conflict("Slot already booked or pending")
	} else if !errors.Is(err, apptserrors.ErrNotFound) {
		return nil, apperrors.Internal("Failed to check slot availability", err)
	}

	// The lock store arbitrates concurrent claims; losing the race is a
	// conflict reported immediately, never awaited or retried.
	token := uuid.New().String()
	acquired, err := s.lockRepo.Acquire(ctx, req.DoctorID, slotTime, token, s.cfg.LockTTL)
	if err != nil {
		s.cfg.Log.Error("Failed to acquire slot lock", "doctor_id", req.DoctorID, "slot_time", slotTime, "error", err)
		return nil, apperrors.Unavailable("Reservation lock store", err)
	}
	if !acquired {
		return nil, apperrors.Conflict("Slot locked by someone else")
	}

	otp, err := generateOTP()
	if err != nil {
		s.releaseLock(ctx, req.DoctorID, slotTime, token)
		return nil, apperrors.Internal("Failed to generate OTP", err)
	}
	otpExpiresAt := time.Now().UTC().Add(s.cfg.OTPTTL)

	appt := &model.Appointment{
		UserID:       req.UserID,
		DoctorID:     req.DoctorID,
		SlotTime:     slotTime,
		Status:       config.StatusPending,
		OTP:          otp,
		OTPExpiresAt: &otpExpiresAt,
		LockToken:    token,
	}

	// Lock first, durable row second: if this write fails the
	// compensating release frees the slot, and if the release itself
	// fails the TTL reclaims it.
	if err := s.repo.Create(ctx, appt); err != nil {
		s.releaseLock(ctx, req.DoctorID, slotTime, token)
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Conflict("Slot already booked or pending")
		}
		s.cfg.Log.Error("Failed to create pending appointment", "error", err)
		return nil, apperrors.Internal("Failed to create reservation", err)
	}

	res := &model.Reservation{
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		UserID:        appt.UserID,
		SlotTime:      appt.SlotTime,
		OTP:           otp,
		OTPExpiresAt:  otpExpiresAt,
	}

	if err := s.notifier.OTPIssued(ctx, res); err != nil {
		// Delivery is best effort; the reservation stands and the
		// sweeper reclaims it if the code never reaches the user.
		s.cfg.Log.Warn("Failed to publish OTP notification", "appointment_id", appt.ID, "error", err)
	}

	s.cfg.Log.Info("Slot locked",
		"appointment_id", appt.ID,
		"user_id", appt.UserID,
		"doctor_id", appt.DoctorID,
		"slot_time", appt.SlotTime,
		"otp_expires_at", otpExpiresAt,
	)

	if !s.cfg.OTPEcho {
		res.OTP = ""
	}
	return res, nil
}

func (s *appointmentService) Confirm(ctx context.Context, req *model.ConfirmRequest) (*model.Appointment, error) {
	if err := s.validator.ValidateConfirm(req); err != nil {
		s.cfg.Log.Warn("Confirm request validation failed", "error", err)
		return nil, apperrors.Validation("Invalid confirm request", map[string]any{"error": err.Error()})
	}

	appt, err := s.repo.FindPendingByUserAndDoctor(ctx, req.UserID, req.DoctorID)
	if err != nil {
		if errors.Is(err, apptserrors.ErrNotFound) {
			return nil, apperrors.InvalidInput("No pending reservation")
		}
		return nil, apperrors.Internal("Failed to find pending reservation", err)
	}

	if appt.OTPExpiresAt == nil || time.Now().After(*appt.OTPExpiresAt) {
		// Expired codes are never extended; the caller must re-lock.
		// The sweeper reclaims the row on its next tick.
		return nil, apperrors.InvalidInput("OTP expired")
	}

	if req.OTP != appt.OTP {
		return nil, s.handleOTPMismatch(ctx, appt)
	}

	// Durable write first, lock release second: a crash in between
	// leaves the slot still held, never double-bookable.
	booked, err := s.repo.ConfirmPending(ctx, appt.ID)
	if err != nil {
		if errors.Is(err, apptserrors.ErrStatusConflict) {
			return nil, apperrors.Conflict("Reservation is no longer pending")
		}
		return nil, apperrors.Internal("Failed to confirm reservation", err)
	}

	s.releaseLock(ctx, appt.DoctorID, appt.SlotTime, appt.LockToken)

	if err := s.notifier.AppointmentBooked(ctx, booked); err != nil {
		s.cfg.Log.Warn("Failed to publish booking notification", "appointment_id", booked.ID, "error", err)
	}

	s.cfg.Log.Info("Appointment confirmed",
		"appointment_id", booked.ID,
		"user_id", booked.UserID,
		"doctor_id", booked.DoctorID,
		"slot_time", booked.SlotTime,
	)
	return booked, nil
}

// handleOTPMismatch counts the failed attempt and force-cancels the
// reservation once the bound is reached, so a code cannot be brute
// forced within its window.
func (s *appointmentService) handleOTPMismatch(ctx context.Context, appt *model.Appointment) error {
	attempts, err := s.repo.IncrementOTPAttempts(ctx, appt.ID)
	if err != nil {
		if errors.Is(err, apptserrors.ErrStatusConflict) {
			return apperrors.InvalidInput("No pending reservation")
		}
		return apperrors.Internal("Failed to record OTP attempt", err)
	}

	if attempts >= s.cfg.MaxOTPAttempts {
		if _, err := s.repo.CancelWithStatus(ctx, appt.ID, config.StatusPending); err != nil && !errors.Is(err, apptserrors.ErrStatusConflict) {
			s.cfg.Log.Error("Failed to force-cancel reservation after OTP attempts exhausted",
				"appointment_id", appt.ID, "error", err)
		}
		s.releaseLock(ctx, appt.DoctorID, appt.SlotTime, appt.LockToken)
		s.cfg.Log.Warn("Reservation force-cancelled after repeated OTP mismatches",
			"appointment_id", appt.ID, "attempts", attempts)
		return apperrors.InvalidInput("Invalid OTP; reservation cancelled")
	}

	return apperrors.InvalidInput("Invalid OTP")
}

func (s *appointmentService) Cancel(ctx context.Context, id string) (*model.Appointment, error) {
	appt, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch appt.Status {
	case config.StatusCancelled:
		// Cancelling twice is a no-op.
		return appt, nil

	case config.StatusCompleted:
		return nil, apperrors.Conflict("Cannot cancel a completed appointment")

	case config.StatusPending:
		// An unconfirmed reservation may be abandoned at any time; the
		// notice window only protects committed bookings.
		cancelled, err := s.repo.CancelWithStatus(ctx, appt.ID, config.StatusPending)
		if err != nil {
			if errors.Is(err, apptserrors.ErrStatusConflict) {
				return nil, apperrors.Conflict("Appointment changed concurrently")
			}
			return nil, apperrors.Internal("Failed to cancel reservation", err)
		}
		s.releaseLock(ctx, appt.DoctorID, appt.SlotTime, appt.LockToken)
		s.cfg.Log.Info("Pending reservation cancelled", "appointment_id", appt.ID)
		return cancelled, nil

	case config.StatusBooked:
		if time.Until(appt.SlotTime) <= s.cfg.MinCancelNotice {
			return nil, apperrors.Forbidden("Cannot cancel within 24 hours of appointment")
		}
		cancelled, err := s.repo.CancelWithStatus(ctx, appt.ID, config.StatusBooked)
		if err != nil {
			if errors.Is(err, apptserrors.ErrStatusConflict) {
				return nil, apperrors.Conflict("Appointment changed concurrently")
			}
			return nil, apperrors.Internal("Failed to cancel appointment", err)
		}
		s.cfg.Log.Info("Appointment cancelled", "appointment_id", appt.ID)
		return cancelled, nil

	default:
		return nil, apperrors.Internal("Unknown appointment status", fmt.Errorf("status %q", appt.Status))
	}
}

func (s *appointmentService) Reschedule(ctx context.Context, id string, newSlot time.Time) (*model.Appointment, error) {
	if err := s.validator.ValidateReschedule(&model.RescheduleRequest{NewSlotTime: newSlot}); err != nil {
		s.cfg.Log.Warn("Reschedule request validation failed", "id", id, "error", err)
		return nil, apperrors.Validation("Invalid reschedule request", map[string]any{"error": err.Error()})
	}
	newSlot = newSlot.UTC()

	appt, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if appt.Status != config.StatusBooked {
		return nil, apperrors.InvalidInput(fmt.Sprintf("Cannot reschedule a %s appointment", appt.Status))
	}
	if time.Until(appt.SlotTime) <= s.cfg.MinCancelNotice {
		return nil, apperrors.InvalidInput("Rescheduling only allowed more than 24 hours before the slot")
	}

	if _, err := s.repo.FindActiveBySlot(ctx, appt.DoctorID, newSlot); err == nil {
		return nil, apperrors.Conflict("New slot already booked or pending")
	} else if !errors.Is(err, apptserrors.ErrNotFound) {
		return nil, apperrors.Internal("Failed to check new slot availability", err)
	}

	// Reschedule is a cancel-then-relock collapsed into one durable
	// update: the new slot is locked before the rewrite so a
	// concurrent booking of it loses cleanly, and the lock is dropped
	// once the rewrite is durable.
	token := uuid.New().String()
	acquired, err := s.lockRepo.Acquire(ctx, appt.DoctorID, newSlot, token, s.cfg.LockTTL)
	if err != nil {
		return nil, apperrors.Unavailable("Reservation lock store", err)
	}
	if !acquired {
		return nil, apperrors.Conflict("New slot locked by someone else")
	}

	rescheduled, err := s.repo.RescheduleBooked(ctx, appt.ID, newSlot)
	s.releaseLock(ctx, appt.DoctorID, newSlot, token)
	if err != nil {
		if errors.Is(err, apptserrors.ErrStatusConflict) {
			return nil, apperrors.Conflict("Appointment changed concurrently")
		}
		return nil, apperrors.Internal("Failed to reschedule appointment", err)
	}

	s.cfg.Log.Info("Appointment rescheduled",
		"appointment_id", rescheduled.ID,
		"old_slot_time", appt.SlotTime,
		"new_slot_time", rescheduled.SlotTime,
	)
	return rescheduled, nil
}

func (s *appointmentService) ListByDoctor(ctx context.Context, doctorID, userID string, limit int, offset int64) ([]*model.Appointment, error) {
	if doctorID == "" {
		return nil, apperrors.InvalidInput("doctor_id is required")
	}

	appts, err := s.repo.FindByDoctorAndUser(ctx, doctorID, userID, limit, offset)
	if err != nil {
		s.cfg.Log.Error("Failed to list appointments", "doctor_id", doctorID, "error", err)
		return nil, apperrors.Internal("Failed to retrieve appointments", err)
	}

	return appts, nil
}

func (s *appointmentService) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.repo.FindExpiredPending(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to query expired reservations: %w", err)
	}

	swept := 0
	for _, appt := range expired {
		// Lock release before the status flip mirrors the create
		// order; the compare-and-delete is a no-op if the key already
		// expired on its own.
		s.releaseLock(ctx, appt.DoctorID, appt.SlotTime, appt.LockToken)

		if _, err := s.repo.CancelWithStatus(ctx, appt.ID, config.StatusPending); err != nil {
			if errors.Is(err, apptserrors.ErrStatusConflict) {
				// Confirmed or cancelled since we read it; nothing to do.
				continue
			}
			s.cfg.Log.Error("Failed to cancel expired reservation", "appointment_id", appt.ID, "error", err)
			continue
		}

		s.cfg.Log.Info("Expired reservation reclaimed",
			"appointment_id", appt.ID,
			"doctor_id", appt.DoctorID,
			"slot_time", appt.SlotTime,
		)
		swept++
	}

	return swept, nil
}

// --- Helpers ---

func (s *appointmentService) findByID(ctx context.Context, id string) (*model.Appointment, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Appointment ID cannot be empty")
	}

	appt, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, apptserrors.ErrNotFound) {
			return nil, apperrors.NotFoundWithID("Appointment", id)
		}
		if errors.Is(err, apptserrors.ErrInvalidID) {
			return nil, apperrors.InvalidInput("Invalid appointment ID format")
		}
		return nil, apperrors.Internal("Failed to retrieve appointment", err)
	}

	return appt, nil
}

func (s *appointmentService) releaseLock(ctx context.Context, doctorID string, slotTime time.Time, token string) {
	if token == "" {
		return
	}
	if err := s.lockRepo.Release(ctx, doctorID, slotTime, token); err != nil {
		// Safe to leave behind: the TTL reclaims it.
		s.cfg.Log.Warn("Failed to release slot lock",
			"doctor_id", doctorID, "slot_time", slotTime, "error", err)
	}
}

// generateOTP returns a 6-digit code in [100000, 999999].
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", n.Int64()+100000), nil
}
