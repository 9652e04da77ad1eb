package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ticvision/portal/internal/models"
)

type confirmationDocument struct {
	ID            string     `bson:"_id"`
	DoctorID      string     `bson:"doctorId"`
	PatientID     string     `bson:"patientId"`
	PatientEmail  string     `bson:"patientEmail"`
	State         string     `bson:"state"`
	ActiveKey     *string    `bson:"activeKey,omitempty"`
	TokenHash     *string    `bson:"tokenHash,omitempty"`
	TokenIssuedAt *time.Time `bson:"tokenIssuedAt,omitempty"`
	ConfirmedAt   *time.Time `bson:"confirmedAt,omitempty"`
	ExpiredAt     *time.Time `bson:"expiredAt,omitempty"`
	CreatedAt     time.Time  `bson:"createdAt"`
	UpdatedAt     time.Time  `bson:"updatedAt"`
}

type linkDocument struct {
	ID          string    `bson:"_id"`
	DoctorID    string    `bson:"doctorId"`
	PatientID   string    `bson:"patientId"`
	RequestID   string    `bson:"requestId"`
	ConfirmedAt time.Time `bson:"confirmedAt"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func confirmationToDocument(req *models.ConfirmationRequest) confirmationDocument {
	return confirmationDocument{
		ID:            req.ID,
		DoctorID:      req.DoctorID,
		PatientID:     req.PatientID,
		PatientEmail:  req.PatientEmail,
		State:         string(req.State),
		ActiveKey:     req.ActiveKey,
		TokenHash:     req.TokenHash,
		TokenIssuedAt: utcPtr(req.TokenIssuedAt),
		ConfirmedAt:   utcPtr(req.ConfirmedAt),
		ExpiredAt:     utcPtr(req.ExpiredAt),
		CreatedAt:     utc(req.CreatedAt),
		UpdatedAt:     utc(req.UpdatedAt),
	}
}

func (d confirmationDocument) model() models.ConfirmationRequest {
	req := models.ConfirmationRequest{
		DoctorID:      d.DoctorID,
		PatientID:     d.PatientID,
		PatientEmail:  d.PatientEmail,
		State:         models.ConfirmationState(d.State),
		ActiveKey:     d.ActiveKey,
		TokenHash:     d.TokenHash,
		TokenIssuedAt: d.TokenIssuedAt,
		ConfirmedAt:   d.ConfirmedAt,
		ExpiredAt:     d.ExpiredAt,
	}
	req.ID = d.ID
	req.CreatedAt = d.CreatedAt
	req.UpdatedAt = d.UpdatedAt
	return req
}

func (d linkDocument) model() models.DoctorPatientLink {
	link := models.DoctorPatientLink{
		DoctorID:    d.DoctorID,
		PatientID:   d.PatientID,
		RequestID:   d.RequestID,
		ConfirmedAt: d.ConfirmedAt,
	}
	link.ID = d.ID
	link.CreatedAt = d.CreatedAt
	link.UpdatedAt = d.UpdatedAt
	return link
}

// MongoConfirmationStore implements ConfirmationStore on MongoDB. ConfirmToken
// uses a multi-document transaction and therefore needs a replica set.
type MongoConfirmationStore struct {
	client   *mongo.Client
	requests *mongo.Collection
	links    *mongo.Collection
	now      func() time.Time
}

// NewMongoConfirmationStore constructs a document-backed ConfirmationStore.
func NewMongoConfirmationStore(client *mongo.Client, db *mongo.Database) (*MongoConfirmationStore, error) {
	if client == nil || db == nil {
		return nil, errors.New("mongo confirmation store: client and database are required")
	}
	return &MongoConfirmationStore{
		client:   client,
		requests: db.Collection(ConfirmationsCollection),
		links:    db.Collection(LinksCollection),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *MongoConfirmationStore) CreatePending(ctx context.Context, req *models.ConfirmationRequest) error {
	if req == nil {
		return errors.New("mongo confirmation store: request is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := s.now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	req.State = models.ConfirmationPending
	req.ActiveKey = activeKeyFor(req)
	req.TokenHash = nil
	req.TokenIssuedAt = nil

	if _, err := s.requests.InsertOne(ctx, confirmationToDocument(req)); err != nil {
		return translateMongo("create pending", err)
	}
	return nil
}

func (s *MongoConfirmationStore) FindActive(ctx context.Context, doctorID, patientID string) (*models.ConfirmationRequest, error) {
	return s.findOne(ctx, "find active", bson.M{"activeKey": models.IntentKey(doctorID, patientID)})
}

func (s *MongoConfirmationStore) GetRequest(ctx context.Context, id string) (*models.ConfirmationRequest, error) {
	return s.findOne(ctx, "get request", bson.M{"_id": id})
}

func (s *MongoConfirmationStore) ListRequests(ctx context.Context, doctorID string, state models.ConfirmationState) ([]models.ConfirmationRequest, error) {
	filter := bson.M{"doctorId": doctorID}
	if state != "" {
		filter["state"] = string(state)
	}

	cursor, err := s.requests.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, translateMongo("list requests", err)
	}
	defer cursor.Close(ctx)

	var docs []confirmationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translateMongo("list requests", err)
	}

	requests := make([]models.ConfirmationRequest, 0, len(docs))
	for _, doc := range docs {
		requests = append(requests, doc.model())
	}
	return requests, nil
}

func (s *MongoConfirmationStore) IssueToken(ctx context.Context, requestID, tokenHash string, issuedAt time.Time) error {
	res, err := s.requests.UpdateOne(ctx,
		bson.M{"_id": requestID, "state": string(models.ConfirmationPending)},
		bson.M{"$set": bson.M{
			"state":         string(models.ConfirmationTokenIssued),
			"tokenHash":     tokenHash,
			"tokenIssuedAt": utc(issuedAt),
			"updatedAt":     s.now(),
		}},
	)
	if err != nil {
		return translateMongo("issue token", err)
	}
	if res.MatchedCount == 0 {
		return ErrStateMismatch
	}
	return nil
}

func (s *MongoConfirmationStore) Expire(ctx context.Context, requestID string, from models.ConfirmationState, at time.Time) error {
	if !from.Active() {
		return ErrStateMismatch
	}
	res, err := s.requests.UpdateOne(ctx,
		bson.M{"_id": requestID, "state": string(from)},
		expireUpdate(at, s.now()),
	)
	if err != nil {
		return translateMongo("expire", err)
	}
	if res.MatchedCount == 0 {
		return ErrStateMismatch
	}
	return nil
}

func (s *MongoConfirmationStore) ExpireStale(ctx context.Context, pendingBefore, issuedBefore, at time.Time) (int64, error) {
	res, err := s.requests.UpdateMany(ctx,
		bson.M{"$or": bson.A{
			bson.M{"state": string(models.ConfirmationPending), "createdAt": bson.M{"$lt": utc(pendingBefore)}},
			bson.M{"state": string(models.ConfirmationTokenIssued), "tokenIssuedAt": bson.M{"$lt": utc(issuedBefore)}},
		}},
		expireUpdate(at, s.now()),
	)
	if err != nil {
		return 0, translateMongo("expire stale", err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoConfirmationStore) ConfirmToken(ctx context.Context, tokenHash string, confirmedAt time.Time, check ConfirmCheck) (*models.ConfirmationRequest, *models.DoctorPatientLink, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, nil, translateMongo("start session", err)
	}
	defer session.EndSession(ctx)

	confirmedAt = utc(confirmedAt)

	var (
		req  models.ConfirmationRequest
		link models.DoctorPatientLink
	)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		var doc confirmationDocument
		if err := s.requests.FindOne(sc, bson.M{"tokenHash": tokenHash}).Decode(&doc); err != nil {
			return nil, translateMongo("confirm lookup", err)
		}
		req = doc.model()
		if check != nil {
			if err := check(&req); err != nil {
				return nil, err
			}
		}

		now := s.now()
		res, err := s.requests.UpdateOne(sc,
			bson.M{"_id": req.ID, "state": string(models.ConfirmationTokenIssued)},
			bson.M{
				"$set": bson.M{
					"state":       string(models.ConfirmationConfirmed),
					"confirmedAt": confirmedAt,
					"updatedAt":   now,
				},
				"$unset": bson.M{"activeKey": ""},
			},
		)
		if err != nil {
			return nil, translateMongo("confirm", err)
		}
		if res.MatchedCount == 0 {
			return nil, ErrStateMismatch
		}

		var linkDoc linkDocument
		err = s.links.FindOneAndUpdate(sc,
			bson.M{"doctorId": req.DoctorID, "patientId": req.PatientID},
			bson.M{
				"$set": bson.M{
					"requestId":   req.ID,
					"confirmedAt": confirmedAt,
					"updatedAt":   now,
				},
				"$setOnInsert": bson.M{
					"_id":       uuid.NewString(),
					"createdAt": now,
				},
			},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
		).Decode(&linkDoc)
		if err != nil {
			return nil, translateMongo("upsert link", err)
		}
		link = linkDoc.model()
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}

	req.State = models.ConfirmationConfirmed
	req.ConfirmedAt = &confirmedAt
	req.ActiveKey = nil
	return &req, &link, nil
}

func (s *MongoConfirmationStore) IsLinked(ctx context.Context, doctorID, patientID string) (bool, error) {
	count, err := s.links.CountDocuments(ctx, bson.M{"doctorId": doctorID, "patientId": patientID}, options.Count().SetLimit(1))
	if err != nil {
		return false, translateMongo("is linked", err)
	}
	return count > 0, nil
}

func (s *MongoConfirmationStore) ListLinks(ctx context.Context, doctorID string) ([]models.DoctorPatientLink, error) {
	cursor, err := s.links.Find(ctx, bson.M{"doctorId": doctorID}, options.Find().SetSort(bson.D{{Key: "confirmedAt", Value: -1}}))
	if err != nil {
		return nil, translateMongo("list links", err)
	}
	defer cursor.Close(ctx)

	var docs []linkDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translateMongo("list links", err)
	}
	links := make([]models.DoctorPatientLink, 0, len(docs))
	for _, doc := range docs {
		links = append(links, doc.model())
	}
	return links, nil
}

func (s *MongoConfirmationStore) findOne(ctx context.Context, op string, filter bson.M) (*models.ConfirmationRequest, error) {
	var doc confirmationDocument
	if err := s.requests.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translateMongo(op, err)
	}
	req := doc.model()
	return &req, nil
}

func expireUpdate(at, now time.Time) bson.M {
	return bson.M{
		"$set": bson.M{
			"state":     string(models.ConfirmationExpired),
			"expiredAt": utc(at),
			"updatedAt": now,
		},
		"$unset": bson.M{"activeKey": ""},
	}
}

var _ ConfirmationStore = (*MongoConfirmationStore)(nil)
