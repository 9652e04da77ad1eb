package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by the document store.
const (
	UsersCollection         = "users"
	ConfirmationsCollection = "confirmation_requests"
	LinksCollection         = "doctor_patient_links"
	TicsCollection          = "tic_events"
)

// EnsureMongoIndexes creates the unique indexes the document store relies on.
// The partial indexes on activeKey and tokenHash only cover documents that carry the field.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	if db == nil {
		return errors.New("mongo store: database is required")
	}

	specs := map[string][]mongo.IndexModel{
		UsersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_email")},
		},
		ConfirmationsCollection: {
			{
				Keys: bson.D{{Key: "activeKey", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_active_key").
					SetPartialFilterExpression(bson.M{"activeKey": bson.M{"$exists": true}}),
			},
			{
				Keys: bson.D{{Key: "tokenHash", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_token_hash").
					SetPartialFilterExpression(bson.M{"tokenHash": bson.M{"$exists": true}}),
			},
			{Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("doctor_created")},
			{Keys: bson.D{{Key: "state", Value: 1}}, Options: options.Index().SetName("state")},
		},
		LinksCollection: {
			{Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "patientId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("uniq_pair")},
		},
		TicsCollection: {
			{Keys: bson.D{{Key: "patientId", Value: 1}, {Key: "date", Value: -1}}, Options: options.Index().SetName("patient_date")},
		},
	}

	for collection, indexes := range specs {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo store: create indexes on %s: %w", collection, err)
		}
	}
	return nil
}

func translateMongo(op string, err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return ErrDuplicate
	default:
		return fmt.Errorf("mongo store: %s: %w", op, err)
	}
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}
