package service

import (
	"context"
	"testing"
	"time"

	apptserrors "medibook/internal/appointments/errors"
	doctorserrors "medibook/internal/doctors/errors"
	"medibook/pkg/config"
	apperrors "medibook/pkg/errors"
	"medibook/pkg/logger"
	"medibook/pkg/model"
)

const testDoctorID = "507f191e810c19729de860ea"

type mockDoctorRepository struct {
	findByIDFunc func(ctx context.Context, id string) (*model.Doctor, error)
}

func (m *mockDoctorRepository) FindByID(ctx context.Context, id string) (*model.Doctor, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, doctorserrors.ErrNotFound
}

type mockAppointmentRepository struct {
	findActiveInRangeFunc func(ctx context.Context, doctorID string, from, to time.Time) ([]*model.Appointment, error)
}

func (m *mockAppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	return nil
}

func (m *mockAppointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	return nil, apptserrors.ErrNotFound
}

func (m *mockAppointmentRepository) FindActiveBySlot(ctx context.Context, doctorID string, slotTime time.Time) (*model.Appointment, error) {
	return nil, apptserrors.ErrNotFound
}

func (m *mockAppointmentRepository) FindPendingByUserAndDoctor(ctx context.Context, userID, doctorID string) (*model.Appointment, error) {
	return nil, apptserrors.ErrNotFound
}

func (m *mockAppointmentRepository) FindActiveInRange(ctx context.Context, doctorID string, from, to time.Time) ([]*model.Appointment, error) {
	if m.findActiveInRangeFunc != nil {
		return m.findActiveInRangeFunc(ctx, doctorID, from, to)
	}
	return []*model.Appointment{}, nil
}

func (m *mockAppointmentRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Appointment, error) {
	return []*model.Appointment{}, nil
}

func (m *mockAppointmentRepository) FindByDoctorAndUser(ctx context.Context, doctorID, userID string, limit int, offset int64) ([]*model.Appointment, error) {
	return []*model.Appointment{}, nil
}

func (m *mockAppointmentRepository) ConfirmPending(ctx context.Context, id string) (*model.Appointment, error) {
	return nil, apptserrors.ErrStatusConflict
}

func (m *mockAppointmentRepository) CancelWithStatus(ctx context.Context, id, fromStatus string) (*model.Appointment, error) {
	return nil, apptserrors.ErrStatusConflict
}

func (m *mockAppointmentRepository) RescheduleBooked(ctx context.Context, id string, newSlot time.Time) (*model.Appointment, error) {
	return nil, apptserrors.ErrStatusConflict
}

func (m *mockAppointmentRepository) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	return 0, nil
}

func newTestConfig() *config.Config {
	return &config.Config{
		Log: logger.New(logger.Config{
			Level:     "error",
			Format:    logger.JSON,
			AddSource: false,
			Service:   "test",
		}),
	}
}

// 2026-03-16 is a Monday.
const testDate = "2026-03-16"

func mondayDoctor() *model.Doctor {
	return &model.Doctor{
		ID:             testDoctorID,
		Name:           "Dr. Levin",
		Specialization: "Cardiology",
		Availability: []model.DayAvailability{
			{Day: "Monday", Slots: []string{"09:00", "09:30", "10:00"}},
			{Day: "Wednesday", Slots: []string{"14:00"}},
		},
	}
}

func doctorRepo(doc *model.Doctor) *mockDoctorRepository {
	return &mockDoctorRepository{
		findByIDFunc: func(ctx context.Context, id string) (*model.Doctor, error) {
			return doc, nil
		},
	}
}

func TestOpenSlots_FullTemplateWhenUnbooked(t *testing.T) {
	svc := NewSlotService(doctorRepo(mondayDoctor()), &mockAppointmentRepository{}, newTestConfig())

	slots, err := svc.OpenSlots(context.Background(), testDoctorID, testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	want := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	if !slots[0].Equal(want) {
		t.Errorf("expected first slot %v, got %v", want, slots[0])
	}
}

func TestOpenSlots_ExcludesActiveAppointments(t *testing.T) {
	occupied := time.Date(2026, 3, 16, 9, 30, 0, 0, time.UTC)
	apptRepo := &mockAppointmentRepository{
		findActiveInRangeFunc: func(ctx context.Context, doctorID string, from, to time.Time) ([]*model.Appointment, error) {
			return []*model.Appointment{
				{ID: "a1", SlotTime: occupied, Status: config.StatusPending},
			}, nil
		},
	}

	svc := NewSlotService(doctorRepo(mondayDoctor()), apptRepo, newTestConfig())
	slots, err := svc.OpenSlots(context.Background(), testDoctorID, testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 open slots, got %d", len(slots))
	}
	for _, slot := range slots {
		if slot.Equal(occupied) {
			t.Errorf("occupied slot %v must not be offered", occupied)
		}
	}
}

func TestOpenSlots_EmptyForDayWithoutTemplate(t *testing.T) {
	svc := NewSlotService(doctorRepo(mondayDoctor()), &mockAppointmentRepository{}, newTestConfig())

	// 2026-03-17 is a Tuesday, absent from the availability template.
	slots, err := svc.OpenSlots(context.Background(), testDoctorID, "2026-03-17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots, got %d", len(slots))
	}
}

func TestOpenSlots_WeekdayMatchIsCaseInsensitive(t *testing.T) {
	doc := mondayDoctor()
	doc.Availability[0].Day = "monday"

	svc := NewSlotService(doctorRepo(doc), &mockAppointmentRepository{}, newTestConfig())
	slots, err := svc.OpenSlots(context.Background(), testDoctorID, testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 3 {
		t.Errorf("expected 3 slots, got %d", len(slots))
	}
}

func TestOpenSlots_BadDate(t *testing.T) {
	svc := NewSlotService(doctorRepo(mondayDoctor()), &mockAppointmentRepository{}, newTestConfig())

	for _, date := range []string{"", "16-03-2026", "2026/03/16", "not-a-date"} {
		_, err := svc.OpenSlots(context.Background(), testDoctorID, date)
		if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeInvalidInput {
			t.Errorf("date %q: expected %s, got %v", date, apperrors.CodeInvalidInput, err)
		}
	}
}

func TestOpenSlots_DoctorNotFound(t *testing.T) {
	svc := NewSlotService(&mockDoctorRepository{}, &mockAppointmentRepository{}, newTestConfig())

	_, err := svc.OpenSlots(context.Background(), testDoctorID, testDate)
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeNotFound {
		t.Fatalf("expected %s, got %v", apperrors.CodeNotFound, err)
	}
}

func TestOpenSlots_SkipsMalformedTemplateEntries(t *testing.T) {
	doc := mondayDoctor()
	doc.Availability[0].Slots = []string{"09:00", "late morning", "25:99"}

	svc := NewSlotService(doctorRepo(doc), &mockAppointmentRepository{}, newTestConfig())
	slots, err := svc.OpenSlots(context.Background(), testDoctorID, testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("expected 1 valid slot, got %d", len(slots))
	}
}
