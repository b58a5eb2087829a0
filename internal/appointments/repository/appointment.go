package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apptserrors "medibook/internal/appointments/errors"
	"medibook/pkg/config"
	"medibook/pkg/model"
)

const (
	CollectionName = "Appointments"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appt *model.Appointment) error
	FindByID(ctx context.Context, id string) (*model.Appointment, error)
	FindActiveBySlot(ctx context.Context, doctorID string, slotTime time.Time) (*model.Appointment, error)
	FindPendingByUserAndDoctor(ctx context.Context, userID, doctorID string) (*model.Appointment, error)
	FindActiveInRange(ctx context.Context, doctorID string, from, to time.Time) ([]*model.Appointment, error)
	FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Appointment, error)
	FindByDoctorAndUser(ctx context.Context, doctorID, userID string, limit int, offset int64) ([]*model.Appointment, error)
	ConfirmPending(ctx context.Context, id string) (*model.Appointment, error)
	CancelWithStatus(ctx context.Context, id, fromStatus string) (*model.Appointment, error)
	RescheduleBooked(ctx context.Context, id string, newSlot time.Time) (*model.Appointment, error)
	IncrementOTPAttempts(ctx context.Context, id string) (int, error)
}

type mongoAppointmentRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoAppointmentRepository(cfg *config.Config) AppointmentRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoAppointmentRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoAppointmentRepository) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline && time.Until(deadline) < timeout {
		return context.WithTimeout(ctx, time.Until(deadline))
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *mongoAppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	appt.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	result, err := r.collection.InsertOne(ctx, appt)
	if err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		appt.ID = oid.Hex()
	}
	return nil
}

func (r *mongoAppointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apptserrors.ErrInvalidID, id)
	}

	var appt model.Appointment
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&appt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apptserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find appointment: %w", err)
	}

	return &appt, nil
}

func (r *mongoAppointmentRepository) FindActiveBySlot(ctx context.Context, doctorID string, slotTime time.Time) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"doctor_id": doctorID,
		"slot_time": slotTime.UTC(),
		"status":    bson.M{"$in": config.ActiveStatuses},
	}

	var appt model.Appointment
	err := r.collection.FindOne(ctx, filter).Decode(&appt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apptserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find appointment by slot: %w", err)
	}

	return &appt, nil
}

func (r *mongoAppointmentRepository) FindPendingByUserAndDoctor(ctx context.Context, userID, doctorID string) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"user_id":   userID,
		"doctor_id": doctorID,
		"status":    config.StatusPending,
	}

	var appt model.Appointment
	err := r.collection.FindOne(ctx, filter).Decode(&appt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apptserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find pending appointment: %w", err)
	}

	return &appt, nil
}

func (r *mongoAppointmentRepository) FindActiveInRange(ctx context.Context, doctorID string, from, to time.Time) ([]*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"doctor_id": doctorID,
		"slot_time": bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
		"status":    bson.M{"$in": config.ActiveStatuses},
	}

	opts := options.Find().SetSort(bson.D{{Key: "slot_time", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find appointments in range: %w", err)
	}
	defer cursor.Close(ctx)

	var appts []*model.Appointment
	if err = cursor.All(ctx, &appts); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}

	return appts, nil
}

func (r *mongoAppointmentRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"status":         config.StatusPending,
		"otp_expires_at": bson.M{"$lt": now.UTC()},
	}

	cursor, err := r.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired pending appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appts []*model.Appointment
	if err = cursor.All(ctx, &appts); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}

	return appts, nil
}

func (r *mongoAppointmentRepository) FindByDoctorAndUser(ctx context.Context, doctorID, userID string, limit int, offset int64) ([]*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{"doctor_id": doctorID}
	if userID != "" {
		filter["user_id"] = userID
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "slot_time", Value: 1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appts []*model.Appointment
	if err = cursor.All(ctx, &appts); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}

	return appts, nil
}

// updateGuarded performs a conditional update on {_id, status}. A
// guard miss returns ErrStatusConflict: either the row is gone or a
// concurrent operation already moved it. Callers must treat this as a
// lost race, never retry with a blind overwrite.
func (r *mongoAppointmentRepository) updateGuarded(ctx context.Context, id, fromStatus string, update bson.M) (*model.Appointment, error) {
	ctx, cancel := r.withTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", apptserrors.ErrInvalidID, id)
	}

	filter := bson.M{"_id": objectID, "status": fromStatus}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var appt model.Appointment
	err = r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&appt)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apptserrors.ErrStatusConflict
		}
		return nil, fmt.Errorf("failed to update appointment: %w", err)
	}

	return &appt, nil
}

func (r *mongoAppointmentRepository) ConfirmPending(ctx context.Context, id string) (*model.Appointment, error) {
	update := bson.M{
		"$set": bson.M{"status": config.StatusBooked},
		"$unset": bson.M{
			"otp":            "",
			"otp_expires_at": "",
			"lock_token":     "",
			"otp_attempts":   "",
		},
	}
	return r.updateGuarded(ctx, id, config.StatusPending, update)
}

func (r *mongoAppointmentRepository) CancelWithStatus(ctx context.Context, id, fromStatus string) (*model.Appointment, error) {
	update := bson.M{
		"$set": bson.M{"status": config.StatusCancelled},
		"$unset": bson.M{
			"otp":            "",
			"otp_expires_at": "",
			"lock_token":     "",
			"otp_attempts":   "",
		},
	}
	return r.updateGuarded(ctx, id, fromStatus, update)
}

func (r *mongoAppointmentRepository) RescheduleBooked(ctx context.Context, id string, newSlot time.Time) (*model.Appointment, error) {
	update := bson.M{
		"$set": bson.M{"slot_time": newSlot.UTC()},
	}
	return r.updateGuarded(ctx, id, config.StatusBooked, update)
}

func (r *mongoAppointmentRepository) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	appt, err := r.updateGuarded(ctx, id, config.StatusPending, bson.M{
		"$inc": bson.M{"otp_attempts": 1},
	})
	if err != nil {
		return 0, err
	}
	return appt.OTPAttempts, nil
}
