package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ticvision/portal/internal/models"
)

type userDocument struct {
	ID           string     `bson:"_id"`
	Email        string     `bson:"email"`
	DisplayName  string     `bson:"displayName"`
	Role         string     `bson:"role"`
	PasswordHash string     `bson:"passwordHash"`
	TicCounter   int        `bson:"ticCounter"`
	LastLoginAt  *time.Time `bson:"lastLoginAt,omitempty"`
	CreatedAt    time.Time  `bson:"createdAt"`
	UpdatedAt    time.Time  `bson:"updatedAt"`
}

func userToDocument(u *models.User) userDocument {
	return userDocument{
		ID:           u.ID,
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Role:         u.Role,
		PasswordHash: u.PasswordHash,
		TicCounter:   u.TicCounter,
		LastLoginAt:  utcPtr(u.LastLoginAt),
		CreatedAt:    utc(u.CreatedAt),
		UpdatedAt:    utc(u.UpdatedAt),
	}
}

func (d userDocument) model() models.User {
	user := models.User{
		Email:        d.Email,
		DisplayName:  d.DisplayName,
		Role:         d.Role,
		PasswordHash: d.PasswordHash,
		TicCounter:   d.TicCounter,
		LastLoginAt:  d.LastLoginAt,
	}
	user.ID = d.ID
	user.CreatedAt = d.CreatedAt
	user.UpdatedAt = d.UpdatedAt
	return user
}

// MongoDirectory implements Directory on the users collection.
type MongoDirectory struct {
	users *mongo.Collection
	now   func() time.Time
}

// NewMongoDirectory constructs a document-backed Directory.
func NewMongoDirectory(db *mongo.Database) (*MongoDirectory, error) {
	if db == nil {
		return nil, errors.New("mongo directory: database is required")
	}
	return &MongoDirectory{
		users: db.Collection(UsersCollection),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (d *MongoDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.findOne(ctx, "find by email", bson.M{"email": NormalizeEmail(email)})
}

func (d *MongoDirectory) FindByID(ctx context.Context, id string) (*models.User, error) {
	return d.findOne(ctx, "find by id", bson.M{"_id": id})
}

func (d *MongoDirectory) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cursor, err := d.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, translateMongo("find by ids", err)
	}
	defer cursor.Close(ctx)

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translateMongo("find by ids", err)
	}
	users := make([]models.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.model())
	}
	return users, nil
}

func (d *MongoDirectory) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("mongo directory: user is required")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := d.now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Email = NormalizeEmail(user.Email)

	if _, err := d.users.InsertOne(ctx, userToDocument(user)); err != nil {
		return translateMongo("create user", err)
	}
	return nil
}

func (d *MongoDirectory) IncrementTicCounter(ctx context.Context, userID string, delta int) error {
	return incrementTicCounterDocument(ctx, d.users, userID, delta, d.now())
}

func incrementTicCounterDocument(ctx context.Context, users *mongo.Collection, userID string, delta int, now time.Time) error {
	res, err := users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{"ticCounter": delta},
		"$set": bson.M{"updatedAt": now},
	})
	if err != nil {
		return translateMongo("increment tic counter", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *MongoDirectory) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	return d.update(ctx, "touch last login", userID, bson.M{
		"$set": bson.M{"lastLoginAt": utc(at), "updatedAt": d.now()},
	})
}

func (d *MongoDirectory) update(ctx context.Context, op, userID string, update bson.M) error {
	res, err := d.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return translateMongo(op, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *MongoDirectory) findOne(ctx context.Context, op string, filter bson.M) (*models.User, error) {
	var doc userDocument
	if err := d.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translateMongo(op, err)
	}
	user := doc.model()
	return &user, nil
}

var _ Directory = (*MongoDirectory)(nil)
