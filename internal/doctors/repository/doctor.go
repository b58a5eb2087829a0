package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	doctorserrors "medibook/internal/doctors/errors"
	"medibook/pkg/config"
	"medibook/pkg/model"
)

const (
	CollectionName = "Doctors"
)

// DoctorRepository reads the doctor catalog. Writes belong to the
// catalog collaborator, not this service.
type DoctorRepository interface {
	FindByID(ctx context.Context, id string) (*model.Doctor, error)
}

type mongoDoctorRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewMongoDoctorRepository(cfg *config.Config) DoctorRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoDoctorRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
	}
}

func (r *mongoDoctorRepository) FindByID(ctx context.Context, id string) (*model.Doctor, error) {
	ctx, cancel := context.WithTimeout(ctx, r.readTimeout(ctx))
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", doctorserrors.ErrInvalidID, id)
	}

	var doctor model.Doctor
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&doctor)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, doctorserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find doctor: %w", err)
	}

	return &doctor, nil
}

func (r *mongoDoctorRepository) readTimeout(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < r.cfg.ReadTimeout {
		return time.Until(deadline)
	}
	return r.cfg.ReadTimeout
}
