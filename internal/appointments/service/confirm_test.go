package service

import (
	"context"
	"testing"
	"time"

	"medibook/pkg/config"
	apperrors "medibook/pkg/errors"
	"medibook/pkg/model"
)

func pendingAppointment(slot time.Time) *model.Appointment {
	expires := time.Now().UTC().Add(3 * time.Minute)
	return &model.Appointment{
		ID:           testApptID,
		UserID:       testUserID,
		DoctorID:     testDoctorID,
		SlotTime:     slot,
		Status:       config.StatusPending,
		OTP:          "482913",
		OTPExpiresAt: &expires,
		LockToken:    "token-1",
	}
}

func TestConfirm_Success(t *testing.T) {
	slot := futureSlot()
	appt := pendingAppointment(slot)

	// The durable flip must land before the lock is dropped.
	var order []string
	repo := &mockAppointmentRepository{
		findPendingByUserAndDoctorFunc: func(ctx context.Context, userID, doctorID string) (*model.Appointment, error) {
			return appt, nil
		},
		confirmPendingFunc: func(ctx context.Context, id string) (*model.Appointment, error) {
			order = append(order, "confirm")
			booked := *appt
			booked.Status = config.StatusBooked
			booked.OTP = ""
			booked.LockToken = ""
			return &booked, nil
		},
	}
	lockRepo := &mockSlotLockRepository{
		releaseFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string) error {
			order = append(order, "release")
			if token != "token-1" {
				t.Errorf("release must use the stored lock token, got %q", token)
			}
			return nil
		},
	}

	var bookedEvent *model.Appointment
	notif := &mockNotifier{
		bookedFunc: func(ctx context.Context, a *model.Appointment) error {
			bookedEvent = a
			return nil
		},
	}

	svc := newTestService(repo, lockRepo, notif, nil)
	booked, err := svc.Confirm(context.Background(), &model.ConfirmRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		OTP:      "482913",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if booked.Status != config.StatusBooked {
		t.Errorf("expected status %s, got %s", config.StatusBooked, booked.Status)
	}
	if len(order) != 2 || order[0] != "confirm" || order[1] != "release" {
		t.Errorf("expected durable write before lock release, got %v", order)
	}
	if bookedEvent == nil {
		t.Error("expected booking notification")
	}
}

func TestConfirm_NoPendingReservation(t *testing.T) {
	svc := newTestService(&mockAppointmentRepository{}, &mockSlotLockRepository{}, &mockNotifier{}, nil)
	_, err := svc.Confirm(context.Background(), &model.ConfirmRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		OTP:      "482913",
	})
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeInvalidInput {
		t.Fatalf("expected %s, got %v", apperrors.CodeInvalidInput, err)
	}
	if appErr.Message != "No pending reservation" {
		t.Errorf("unexpected message: %s", appErr.Message)
	}
}

func TestConfirm_ExpiredOTP(t *testing.T) {
	appt := pendingAppointment(futureSlot())
	expired := time.Now().Add(-time.Minute)
	appt.OTPExpiresAt = &expired

	confirmed := false
	repo := &mockAppointmentRepository{
		findPendingByUserAndDoctorFunc: func(ctx context.Context, userID, doctorID string) (*model.Appointment, error) {
			return appt, nil
		},
		confirmPendingFunc: func(ctx context.Context, id string) (*model.Appointment, error) {
			confirmed = true
			return appt, nil
		},
	}

	svc := newTestService(repo, &mockSlotLockRepository{}, &mockNotifier{}, nil)
	_, err := svc.Confirm(context.Background(), &model.ConfirmRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		OTP:      "482913",
	})
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeInvalidInput || appErr.Message != "OTP expired" {
		t.Fatalf("expected OTP expired, got %v", err)
	}
	if confirmed {
		t.Error("an expired code must never confirm")
	}
}

func TestConfirm_WrongOTPCountsAttempt(t *testing.T) {
	appt := pendingAppointment(futureSlot())

	incremented := false
	cancelled := false
	repo := &mockAppointmentRepository{
		findPendingByUserAndDoctorFunc: func(ctx context.Context, userID, doctorID string) (*model.Appointment, error) {
			return appt, nil
		},
		incrementOTPAttemptsFunc: func(ctx context.Context, id string) (int, error) {
			incremented = true
			return 2, nil
		},
		cancelWithStatusFunc: func(ctx context.Context, id, fromStatus string) (*model.Appointment, error) {
			cancelled = true
			return appt, nil
		},
	}

	svc := newTestService(repo, &mockSlotLockRepository{}, &mockNotifier{}, nil)
	_, err := svc.Confirm(context.Background(), &model.ConfirmRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		OTP:      "000000",
	})
	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeInvalidInput || appErr.Message != "Invalid OTP" {
		t.Fatalf("expected Invalid OTP, got %v", err)
	}
	if !incremented {
		t.Error("failed attempt must be counted")
	}
	if cancelled {
		t.Error("reservation must survive below the attempt bound")
	}
}

func TestConfirm_BruteForceCancelsReservation(t *testing.T) {
	appt := pendingAppointment(futureSlot())

	cancelled := false
	released := false
	repo := &mockAppointmentRepository{
		findPendingByUserAndDoctorFunc: func(ctx context.Context, userID, doctorID string) (*model.Appointment, error) {
			return appt, nil
		},
		incrementOTPAttemptsFunc: func(ctx context.Context, id string) (int, error) {
			return 5, nil
		},
		cancelWithStatusFunc: func(ctx context.Context, id, fromStatus string) (*model.Appointment, error) {
			if fromStatus != config.StatusPending {
				t.Errorf("expected cancel from %s, got %s", config.StatusPending, fromStatus)
			}
			cancelled = true
			return appt, nil
		},
	}
	lockRepo := &mockSlotLockRepository{
		releaseFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string) error {
			released = true
			return nil
		},
	}

	svc := newTestService(repo, lockRepo, &mockNotifier{}, nil)
	_, err := svc.Confirm(context.Background(), &model.ConfirmRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		OTP:      "000000",
	})
	appErr := apperrors.AsAppError(err)
	if appErr.Message != "Invalid OTP; reservation cancelled" {
		t.Fatalf("expected force-cancel message, got %v", err)
	}
	if !cancelled {
		t.Error("reservation must be cancelled at the attempt bound")
	}
	if !released {
		t.Error("slot lock must be released on force-cancel")
	}
}

func TestConfirm_ValidationRejectsShortOTP(t *testing.T) {
	svc := newTestService(&mockAppointmentRepository{}, &mockSlotLockRepository{}, &mockNotifier{}, nil)
	_, err := svc.Confirm(context.Background(), &model.ConfirmRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		OTP:      "123",
	})
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeValidation {
		t.Fatalf("expected %s, got %v", apperrors.CodeValidation, err)
	}
}
