package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	apptserrors "medibook/internal/appointments/errors"
	"medibook/internal/appointments/validator"
	"medibook/pkg/config"
	apperrors "medibook/pkg/errors"
	"medibook/pkg/logger"
	"medibook/pkg/model"
)

const (
	testUserID   = "507f1f77bcf86cd799439011"
	testDoctorID = "507f191e810c19729de860ea"
	testApptID   = "65f1c2d3e4a5b6c7d8e9f0a1"
)

// Mock repository for testing
type mockAppointmentRepository struct {
	createFunc                     func(ctx context.Context, appt *model.Appointment) error
	findByIDFunc                   func(ctx context.Context, id string) (*model.Appointment, error)
	findActiveBySlotFunc           func(ctx context.Context, doctorID string, slotTime time.Time) (*model.Appointment, error)
	findPendingByUserAndDoctorFunc func(ctx context.Context, userID, doctorID string) (*model.Appointment, error)
	findActiveInRangeFunc          func(ctx context.Context, doctorID string, from, to time.Time) ([]*model.Appointment, error)
	findExpiredPendingFunc         func(ctx context.Context, now time.Time) ([]*model.Appointment, error)
	findByDoctorAndUserFunc        func(ctx context.Context, doctorID, userID string, limit int, offset int64) ([]*model.Appointment, error)
	confirmPendingFunc             func(ctx context.Context, id string) (*model.Appointment, error)
	cancelWithStatusFunc           func(ctx context.Context, id, fromStatus string) (*model.Appointment, error)
	rescheduleBookedFunc           func(ctx context.Context, id string, newSlot time.Time) (*model.Appointment, error)
	incrementOTPAttemptsFunc       func(ctx context.Context, id string) (int, error)
}

func (m *mockAppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, appt)
	}
	appt.ID = testApptID
	return nil
}

func (m *mockAppointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, apptserrors.ErrNotFound
}

func (m *mockAppointmentRepository) FindActiveBySlot(ctx context.Context, doctorID string, slotTime time.Time) (*model.Appointment, error) {
	if m.findActiveBySlotFunc != nil {
		return m.findActiveBySlotFunc(ctx, doctorID, slotTime)
	}
	return nil, apptserrors.ErrNotFound
}

func (m *mockAppointmentRepository) FindPendingByUserAndDoctor(ctx context.Context, userID, doctorID string) (*model.Appointment, error) {
	if m.findPendingByUserAndDoctorFunc != nil {
		return m.findPendingByUserAndDoctorFunc(ctx, userID, doctorID)
	}
	return nil, apptserrors.ErrNotFound
}

func (m *mockAppointmentRepository) FindActiveInRange(ctx context.Context, doctorID string, from, to time.Time) ([]*model.Appointment, error) {
	if m.findActiveInRangeFunc != nil {
		return m.findActiveInRangeFunc(ctx, doctorID, from, to)
	}
	return []*model.Appointment{}, nil
}

func (m *mockAppointmentRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Appointment, error) {
	if m.findExpiredPendingFunc != nil {
		return m.findExpiredPendingFunc(ctx, now)
	}
	return []*model.Appointment{}, nil
}

func (m *mockAppointmentRepository) FindByDoctorAndUser(ctx context.Context, doctorID, userID string, limit int, offset int64) ([]*model.Appointment, error) {
	if m.findByDoctorAndUserFunc != nil {
		return m.findByDoctorAndUserFunc(ctx, doctorID, userID, limit, offset)
	}
	return []*model.Appointment{}, nil
}

func (m *mockAppointmentRepository) ConfirmPending(ctx context.Context, id string) (*model.Appointment, error) {
	if m.confirmPendingFunc != nil {
		return m.confirmPendingFunc(ctx, id)
	}
	return nil, apptserrors.ErrStatusConflict
}

func (m *mockAppointmentRepository) CancelWithStatus(ctx context.Context, id, fromStatus string) (*model.Appointment, error) {
	if m.cancelWithStatusFunc != nil {
		return m.cancelWithStatusFunc(ctx, id, fromStatus)
	}
	return nil, apptserrors.ErrStatusConflict
}

func (m *mockAppointmentRepository) RescheduleBooked(ctx context.Context, id string, newSlot time.Time) (*model.Appointment, error) {
	if m.rescheduleBookedFunc != nil {
		return m.rescheduleBookedFunc(ctx, id, newSlot)
	}
	return nil, apptserrors.ErrStatusConflict
}

func (m *mockAppointmentRepository) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	if m.incrementOTPAttemptsFunc != nil {
		return m.incrementOTPAttemptsFunc(ctx, id)
	}
	return 1, nil
}

type mockSlotLockRepository struct {
	acquireFunc func(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error)
	releaseFunc func(ctx context.Context, doctorID string, slotTime time.Time, token string) error
}

func (m *mockSlotLockRepository) Acquire(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error) {
	if m.acquireFunc != nil {
		return m.acquireFunc(ctx, doctorID, slotTime, token, ttl)
	}
	return true, nil
}

func (m *mockSlotLockRepository) Release(ctx context.Context, doctorID string, slotTime time.Time, token string) error {
	if m.releaseFunc != nil {
		return m.releaseFunc(ctx, doctorID, slotTime, token)
	}
	return nil
}

type mockNotifier struct {
	otpIssuedFunc func(ctx context.Context, res *model.Reservation) error
	bookedFunc    func(ctx context.Context, appt *model.Appointment) error
}

func (m *mockNotifier) OTPIssued(ctx context.Context, res *model.Reservation) error {
	if m.otpIssuedFunc != nil {
		return m.otpIssuedFunc(ctx, res)
	}
	return nil
}

func (m *mockNotifier) AppointmentBooked(ctx context.Context, appt *model.Appointment) error {
	if m.bookedFunc != nil {
		return m.bookedFunc(ctx, appt)
	}
	return nil
}

func (m *mockNotifier) Close() error { return nil }

func newTestConfig() *config.Config {
	log := logger.New(logger.Config{
		Level:     "error",
		Format:    logger.JSON,
		AddSource: false,
		Service:   "test",
	})
	return &config.Config{
		Log:             log,
		LockTTL:         5 * time.Minute,
		OTPTTL:          5 * time.Minute,
		MaxOTPAttempts:  5,
		MinCancelNotice: 24 * time.Hour,
		OTPEcho:         true,
	}
}

func newTestService(repo *mockAppointmentRepository, lockRepo *mockSlotLockRepository, notif *mockNotifier, cfg *config.Config) *appointmentService {
	if cfg == nil {
		cfg = newTestConfig()
	}
	return &appointmentService{
		repo:      repo,
		lockRepo:  lockRepo,
		validator: validator.NewAppointmentValidator(cfg.Log),
		notifier:  notif,
		cfg:       cfg,
	}
}

func futureSlot() time.Time {
	return time.Now().UTC().Add(72 * time.Hour).Truncate(time.Minute)
}

func TestLock_Success(t *testing.T) {
	cfg := newTestConfig()
	slot := futureSlot()

	var created *model.Appointment
	var lockedToken string
	repo := &mockAppointmentRepository{
		createFunc: func(ctx context.Context, appt *model.Appointment) error {
			appt.ID = testApptID
			created = appt
			return nil
		},
	}
	lockRepo := &mockSlotLockRepository{
		acquireFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error) {
			if doctorID != testDoctorID {
				t.Errorf("expected doctor %s, got %s", testDoctorID, doctorID)
			}
			if !slotTime.Equal(slot) {
				t.Errorf("expected slot %v, got %v", slot, slotTime)
			}
			if ttl != cfg.LockTTL {
				t.Errorf("expected ttl %v, got %v", cfg.LockTTL, ttl)
			}
			lockedToken = token
			return true, nil
		},
	}

	var notified *model.Reservation
	notif := &mockNotifier{
		otpIssuedFunc: func(ctx context.Context, res *model.Reservation) error {
			notified = res
			return nil
		},
	}

	svc := newTestService(repo, lockRepo, notif, cfg)
	res, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: slot,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.AppointmentID != testApptID {
		t.Errorf("expected appointment ID %s, got %s", testApptID, res.AppointmentID)
	}
	if created == nil {
		t.Fatal("expected durable row to be created")
	}
	if created.Status != config.StatusPending {
		t.Errorf("expected status %s, got %s", config.StatusPending, created.Status)
	}
	if created.LockToken != lockedToken {
		t.Error("durable row must carry the acquired lock token")
	}
	if !regexp.MustCompile(`^[1-9]\d{5}$`).MatchString(created.OTP) {
		t.Errorf("expected 6-digit OTP without leading zero, got %q", created.OTP)
	}
	if res.OTP != created.OTP {
		t.Error("echo mode should return the generated OTP")
	}
	if notified == nil || notified.OTP != created.OTP {
		t.Error("notifier should receive the reservation with its OTP")
	}
	if created.OTPExpiresAt == nil {
		t.Fatal("expected OTP expiry to be set")
	}
	remaining := time.Until(*created.OTPExpiresAt)
	if remaining <= 0 || remaining > cfg.OTPTTL {
		t.Errorf("OTP expiry out of window: %v", remaining)
	}
}

func TestLock_OTPNotEchoedWhenDisabled(t *testing.T) {
	cfg := newTestConfig()
	cfg.OTPEcho = false

	svc := newTestService(&mockAppointmentRepository{}, &mockSlotLockRepository{}, &mockNotifier{}, cfg)
	res, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: futureSlot(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OTP != "" {
		t.Error("OTP must not be returned when echo mode is off")
	}
}

func TestLock_ValidationRejectsPastSlot(t *testing.T) {
	svc := newTestService(&mockAppointmentRepository{}, &mockSlotLockRepository{}, &mockNotifier{}, nil)
	_, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: time.Now().Add(-time.Hour),
	})
	if err == nil {
		t.Fatal("expected validation error for past slot")
	}
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeValidation {
		t.Errorf("expected %s, got %s", apperrors.CodeValidation, appErr.Code)
	}
}

func TestLock_PendingReservationAlreadyExists(t *testing.T) {
	repo := &mockAppointmentRepository{
		findPendingByUserAndDoctorFunc: func(ctx context.Context, userID, doctorID string) (*model.Appointment, error) {
			return &model.Appointment{ID: testApptID, Status: config.StatusPending}, nil
		},
	}
	acquired := false
	lockRepo := &mockSlotLockRepository{
		acquireFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error) {
			acquired = true
			return true, nil
		},
	}

	svc := newTestService(repo, lockRepo, &mockNotifier{}, nil)
	_, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: futureSlot(),
	})
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeConflict {
		t.Errorf("expected %s, got %s", apperrors.CodeConflict, appErr.Code)
	}
	if acquired {
		t.Error("lock must not be touched when a pending reservation exists")
	}
}

func TestLock_SlotAlreadyActive(t *testing.T) {
	repo := &mockAppointmentRepository{
		findActiveBySlotFunc: func(ctx context.Context, doctorID string, slotTime time.Time) (*model.Appointment, error) {
			return &model.Appointment{ID: testApptID, Status: config.StatusBooked}, nil
		},
	}

	svc := newTestService(repo, &mockSlotLockRepository{}, &mockNotifier{}, nil)
	_, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: futureSlot(),
	})
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeConflict {
		t.Fatalf("expected %s, got %v", apperrors.CodeConflict, err)
	}
}

func TestLock_ContendedSlotConflicts(t *testing.T) {
	lockRepo := &mockSlotLockRepository{
		acquireFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error) {
			return false, nil
		},
	}
	createCalled := false
	repo := &mockAppointmentRepository{
		createFunc: func(ctx context.Context, appt *model.Appointment) error {
			createCalled = true
			return nil
		},
	}

	svc := newTestService(repo, lockRepo, &mockNotifier{}, nil)
	_, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: futureSlot(),
	})
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeConflict {
		t.Fatalf("expected %s, got %v", apperrors.CodeConflict, err)
	}
	if createCalled {
		t.Error("no durable row may be created when the lock is contended")
	}
}

func TestLock_StoreFailureIsUnavailable(t *testing.T) {
	lockRepo := &mockSlotLockRepository{
		acquireFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error) {
			return false, errors.New("connection refused")
		},
	}

	svc := newTestService(&mockAppointmentRepository{}, lockRepo, &mockNotifier{}, nil)
	_, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: futureSlot(),
	})
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeUnavailable {
		t.Fatalf("expected %s, got %v", apperrors.CodeUnavailable, err)
	}
}

func TestLock_CreateFailureReleasesLock(t *testing.T) {
	var acquiredToken, releasedToken string
	lockRepo := &mockSlotLockRepository{
		acquireFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string, ttl time.Duration) (bool, error) {
			acquiredToken = token
			return true, nil
		},
		releaseFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string) error {
			releasedToken = token
			return nil
		},
	}
	repo := &mockAppointmentRepository{
		createFunc: func(ctx context.Context, appt *model.Appointment) error {
			return errors.New("write failed")
		},
	}

	svc := newTestService(repo, lockRepo, &mockNotifier{}, nil)
	_, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: futureSlot(),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if releasedToken == "" || releasedToken != acquiredToken {
		t.Errorf("compensating release must use the acquired token, got %q want %q", releasedToken, acquiredToken)
	}
}

func TestLock_DuplicateKeyMapsToConflict(t *testing.T) {
	released := false
	lockRepo := &mockSlotLockRepository{
		releaseFunc: func(ctx context.Context, doctorID string, slotTime time.Time, token string) error {
			released = true
			return nil
		},
	}
	repo := &mockAppointmentRepository{
		createFunc: func(ctx context.Context, appt *model.Appointment) error {
			return mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000}}}
		},
	}

	svc := newTestService(repo, lockRepo, &mockNotifier{}, nil)
	_, err := svc.Lock(context.Background(), &model.LockRequest{
		UserID:   testUserID,
		DoctorID: testDoctorID,
		SlotTime: futureSlot(),
	})
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeConflict {
		t.Fatalf("expected %s, got %v", apperrors.CodeConflict, err)
	}
	if !released {
		t.Error("lock must be released when the unique index rejects the row")
	}
}

// casLockStore is an in-memory stand-in with the same atomicity
// contract as the Redis store: one winner per key.
type casLockStore struct {
	mu    sync.Mutex
	locks map[string]string
}

func newCASLockStore() *casLockStore {
	return &casLockStore{locks: make(map[string]string)}
}

func (s *casLockStore) Acquire(_ context.Context, doctorID string, slotTime time.Time, token string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := doctorID + "|" + slotTime.UTC().Format(time.RFC3339)
	if _, held := s.locks[key]; held {
		return false, nil
	}
	s.locks[key] = token
	return true, nil
}

func (s *casLockStore) Release(_ context.Context, doctorID string, slotTime time.Time, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := doctorID + "|" + slotTime.UTC().Format(time.RFC3339)
	if s.locks[key] == token {
		delete(s.locks, key)
	}
	return nil
}

func TestLock_ConcurrentClaimsSingleWinner(t *testing.T) {
	slot := futureSlot()
	store := newCASLockStore()

	var createMu sync.Mutex
	var created int
	repo := &mockAppointmentRepository{
		createFunc: func(ctx context.Context, appt *model.Appointment) error {
			createMu.Lock()
			defer createMu.Unlock()
			created++
			appt.ID = testApptID
			return nil
		},
	}

	svc := newTestService(repo, nil, &mockNotifier{}, nil)
	svc.lockRepo = store

	userIDs := []string{
		"507f1f77bcf86cd799439011",
		"507f1f77bcf86cd799439012",
		"507f1f77bcf86cd799439013",
		"507f1f77bcf86cd799439014",
		"507f1f77bcf86cd799439015",
		"507f1f77bcf86cd799439016",
		"507f1f77bcf86cd799439017",
		"507f1f77bcf86cd799439018",
	}

	var wg sync.WaitGroup
	results := make(chan error, len(userIDs))
	for _, userID := range userIDs {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, err := svc.Lock(context.Background(), &model.LockRequest{
				UserID:   uid,
				DoctorID: testDoctorID,
				SlotTime: slot,
			})
			results <- err
		}(userID)
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		if err == nil {
			winners++
			continue
		}
		if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeConflict {
			t.Errorf("losers must see a conflict, got %v", err)
		}
	}

	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
	if created != 1 {
		t.Fatalf("expected exactly 1 durable row, got %d", created)
	}
}

func TestListByDoctor_RequiresDoctorID(t *testing.T) {
	svc := newTestService(&mockAppointmentRepository{}, &mockSlotLockRepository{}, &mockNotifier{}, nil)
	_, err := svc.ListByDoctor(context.Background(), "", "", 20, 0)
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeInvalidInput {
		t.Fatalf("expected %s, got %v", apperrors.CodeInvalidInput, err)
	}
}

func TestListByDoctor_PassesFilters(t *testing.T) {
	var gotDoctor, gotUser string
	repo := &mockAppointmentRepository{
		findByDoctorAndUserFunc: func(ctx context.Context, doctorID, userID string, limit int, offset int64) ([]*model.Appointment, error) {
			gotDoctor, gotUser = doctorID, userID
			return []*model.Appointment{{ID: testApptID}}, nil
		},
	}

	svc := newTestService(repo, &mockSlotLockRepository{}, &mockNotifier{}, nil)
	appts, err := svc.ListByDoctor(context.Background(), testDoctorID, testUserID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("expected 1 appointment, got %d", len(appts))
	}
	if gotDoctor != testDoctorID || gotUser != testUserID {
		t.Errorf("filters not forwarded: doctor=%s user=%s", gotDoctor, gotUser)
	}
}
