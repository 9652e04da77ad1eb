package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ticvision/portal/internal/models"
)

type ticDocument struct {
	ID        string    `bson:"_id"`
	PatientID string    `bson:"patientId"`
	Date      string    `bson:"date"`
	TimeOfDay string    `bson:"timeOfDay"`
	Location  string    `bson:"location"`
	Intensity int       `bson:"intensity"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func ticToDocument(e *models.TicEvent) ticDocument {
	return ticDocument{
		ID:        e.ID,
		PatientID: e.PatientID,
		Date:      e.Date,
		TimeOfDay: e.TimeOfDay,
		Location:  e.Location,
		Intensity: e.Intensity,
		CreatedAt: utc(e.CreatedAt),
		UpdatedAt: utc(e.UpdatedAt),
	}
}

func (d ticDocument) model() models.TicEvent {
	event := models.TicEvent{
		PatientID: d.PatientID,
		Date:      d.Date,
		TimeOfDay: d.TimeOfDay,
		Location:  d.Location,
		Intensity: d.Intensity,
	}
	event.ID = d.ID
	event.CreatedAt = d.CreatedAt
	event.UpdatedAt = d.UpdatedAt
	return event
}

// MongoTicStore implements TicStore on the tic_events collection. Recording
// runs in a transaction, so the deployment must be a replica set.
type MongoTicStore struct {
	client *mongo.Client
	tics   *mongo.Collection
	users  *mongo.Collection
	now    func() time.Time
}

// NewMongoTicStore constructs a document-backed TicStore.
func NewMongoTicStore(db *mongo.Database) (*MongoTicStore, error) {
	if db == nil {
		return nil, errors.New("mongo tic store: database is required")
	}
	return &MongoTicStore{
		client: db.Client(),
		tics:   db.Collection(TicsCollection),
		users:  db.Collection(UsersCollection),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *MongoTicStore) RecordTic(ctx context.Context, event *models.TicEvent) error {
	if event == nil {
		return errors.New("mongo tic store: event is required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := s.now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	session, err := s.client.StartSession()
	if err != nil {
		return translateMongo("start session", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := s.tics.InsertOne(sc, ticToDocument(event)); err != nil {
			return nil, translateMongo("record tic", err)
		}
		return nil, incrementTicCounterDocument(sc, s.users, event.PatientID, 1, now)
	})
	return err
}

func (s *MongoTicStore) ListTics(ctx context.Context, query TicQuery) ([]models.TicEvent, error) {
	filter := bson.M{"patientId": query.PatientID}
	dateRange := bson.M{}
	if query.From != "" {
		dateRange["$gte"] = query.From
	}
	if query.To != "" {
		dateRange["$lte"] = query.To
	}
	if len(dateRange) > 0 {
		filter["date"] = dateRange
	}
	if len(query.Locations) > 0 {
		filter["location"] = bson.M{"$in": query.Locations}
	}

	direction := -1
	if query.Ascending {
		direction = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: direction}, {Key: "createdAt", Value: direction}})

	cursor, err := s.tics.Find(ctx, filter, opts)
	if err != nil {
		return nil, translateMongo("list tics", err)
	}
	defer cursor.Close(ctx)

	var docs []ticDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translateMongo("list tics", err)
	}
	events := make([]models.TicEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, doc.model())
	}
	return events, nil
}

func (s *MongoTicStore) TicLocations(ctx context.Context, patientID string) ([]string, error) {
	values, err := s.tics.Distinct(ctx, "location", bson.M{"patientId": patientID})
	if err != nil {
		return nil, translateMongo("tic locations", err)
	}
	locations := make([]string, 0, len(values))
	for _, value := range values {
		location, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("mongo tic store: unexpected location type %T", value)
		}
		locations = append(locations, location)
	}
	sort.Strings(locations)
	return locations, nil
}

var _ TicStore = (*MongoTicStore)(nil)
