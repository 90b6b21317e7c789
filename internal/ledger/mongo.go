package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/metrics"
)

const (
	EventsCollection = "inbound_events"
	// ClaimKeyField holds "<source>:<webhook_id>" while a document is
	// processing or successful. A partial unique index on it is the duplicate
	// barrier.
	ClaimKeyField = "claim_key"
)

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(EventsCollection)}
}

func claimKey(source, webhookID string) string {
	return source + ":" + webhookID
}

type mongoEvent struct {
	InboundEvent `bson:",inline"`
	ClaimKey     string `bson:"claim_key,omitempty"`
}

func (s *MongoStore) Insert(ctx context.Context, ev *InboundEvent) (err error) {
	defer observeMongo("insert", time.Now(), &err)

	doc := mongoEvent{InboundEvent: *ev}
	if ev.Status == StatusProcessing || ev.Status == StatusSuccess {
		doc.ClaimKey = claimKey(ev.Source, ev.WebhookID)
	}

	_, err = s.collection.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyClaimed.WithCause(err)
		}
		return mongoError("insert inbound event", err)
	}
	return nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, requestID string, upd StatusUpdate) (updated bool, err error) {
	defer observeMongo("update_status", time.Now(), &err)

	set := bson.M{
		"status":                 upd.Status,
		"processed_at":           upd.ProcessedAt,
		"processing_duration_ms": upd.Duration.Milliseconds(),
	}
	if len(upd.Outcome) > 0 {
		set["outcome"] = upd.Outcome
	}
	if upd.ErrorCode != "" {
		set["error_code"] = upd.ErrorCode
	}
	if upd.ErrorMessage != "" {
		set["error_message"] = apperrors.Truncate(upd.ErrorMessage)
	}

	unset := bson.M{}
	if upd.Status != StatusSuccess {
		unset[ClaimKeyField] = ""
	}
	if upd.Status != StatusFailed {
		unset["raw_payload"] = ""
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	filter := bson.M{"_id": requestID, "status": StatusProcessing}
	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, mongoError("update inbound event status", err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) GetByRequestID(ctx context.Context, requestID string) (ev *InboundEvent, err error) {
	defer observeMongo("get", time.Now(), &err)

	var doc InboundEvent
	err = s.collection.FindOne(ctx, bson.M{"_id": requestID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrEventNotFound.WithDetail("request_id", requestID)
	}
	if err != nil {
		return nil, mongoError("get inbound event", err)
	}
	return &doc, nil
}

func (s *MongoStore) HasSucceeded(ctx context.Context, source, webhookID string) (found bool, err error) {
	defer observeMongo("has_succeeded", time.Now(), &err)

	filter := bson.M{"source": source, "webhook_id": webhookID, "status": StatusSuccess}
	n, err := s.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, mongoError("check webhook id", err)
	}
	return n > 0, nil
}

func (s *MongoStore) HasSucceededByHash(ctx context.Context, source, payloadHash string, since time.Time) (found bool, err error) {
	defer observeMongo("has_succeeded_by_hash", time.Now(), &err)

	filter := bson.M{
		"source":       source,
		"payload_hash": payloadHash,
		"status":       StatusSuccess,
		"processed_at": bson.M{"$gte": since},
	}
	n, err := s.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, mongoError("check payload hash", err)
	}
	return n > 0, nil
}

func (s *MongoStore) ListStuck(ctx context.Context, olderThan time.Time, limit int) (events []*InboundEvent, err error) {
	defer observeMongo("list_stuck", time.Now(), &err)

	filter := bson.M{"status": StatusProcessing, "received_at": bson.M{"$lt": olderThan}}
	opts := options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}}).SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongoError("list stuck events", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var ev InboundEvent
		if err := cursor.Decode(&ev); err != nil {
			return nil, fmt.Errorf("failed to decode stuck event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := cursor.Err(); err != nil {
		return nil, mongoError("list stuck events", err)
	}
	return events, nil
}

func mongoError(op string, err error) error {
	if tagged := apperrors.FromMongo(err); tagged != nil {
		return tagged.WithDetail("operation", op)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func observeMongo(operation string, start time.Time, err *error) {
	metrics.ObserveDatabaseQuery("mongodb", operation, time.Since(start), *err)
}
