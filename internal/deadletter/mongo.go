package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	apperrors "hookgate/pkg/errors"
	"hookgate/pkg/metrics"
)

const EventsCollection = "dlq_events"

type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(EventsCollection)}
}

func (s *MongoStore) Insert(ctx context.Context, ev *Event) (err error) {
	defer observeMongo("dlq_insert", time.Now(), &err)

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.ErrorMessage = apperrors.Truncate(ev.ErrorMessage)

	if _, err = s.collection.InsertOne(ctx, ev); err != nil {
		return mongoError("insert dead letter event", err)
	}
	return nil
}

// ClaimDue leases events one at a time with FindOneAndUpdate; MongoDB has no
// multi-document SKIP LOCKED.
func (s *MongoStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) (events []*Event, err error) {
	defer observeMongo("dlq_claim_due", time.Now(), &err)

	filter := bson.M{
		"resolved_at":   nil,
		"next_retry_at": bson.M{"$ne": nil, "$lte": now},
		"$or": bson.A{
			bson.M{"leased_until": nil},
			bson.M{"leased_until": bson.M{"$lt": now}},
		},
	}
	update := bson.M{"$set": bson.M{"leased_until": now.Add(lease), "updated_at": now}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "next_retry_at", Value: 1}}).
		SetReturnDocument(options.After)

	for len(events) < limit {
		var ev Event
		err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&ev)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return nil, mongoError("claim due dead letter events", err)
		}
		events = append(events, &ev)
	}
	return events, nil
}

func (s *MongoStore) RecordRetryFailure(ctx context.Context, id string, f RetryFailure) (err error) {
	defer observeMongo("dlq_record_retry_failure", time.Now(), &err)

	update := bson.M{
		"$inc": bson.M{"retry_count": 1},
		"$set": bson.M{
			"next_retry_at": f.NextRetryAt,
			"error_code":    f.Info.Code,
			"error_message": apperrors.Truncate(f.Info.Message),
			"error_stack":   f.Stack,
			"retryable":     f.Info.Retryable,
			"updated_at":    f.At,
		},
		"$unset": bson.M{"leased_until": ""},
	}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "resolved_at": nil}, update)
	if err != nil {
		return mongoError("record dead letter retry failure", err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound.WithDetail("id", id)
	}
	return nil
}

func (s *MongoStore) MarkResolved(ctx context.Context, id string, at time.Time) (err error) {
	defer observeMongo("dlq_mark_resolved", time.Now(), &err)

	update := bson.M{
		"$set":   bson.M{"resolved_at": at, "next_retry_at": nil, "updated_at": at},
		"$unset": bson.M{"leased_until": ""},
	}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id, "resolved_at": nil}, update)
	if err != nil {
		return mongoError("resolve dead letter event", err)
	}
	if res.MatchedCount == 0 {
		return ErrEventNotFound.WithDetail("id", id)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (ev *Event, err error) {
	defer observeMongo("dlq_get", time.Now(), &err)

	var doc Event
	err = s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrEventNotFound.WithDetail("id", id)
	}
	if err != nil {
		return nil, mongoError("get dead letter event", err)
	}
	return &doc, nil
}

func (s *MongoStore) List(ctx context.Context, filter ListFilter) (events []*Event, err error) {
	defer observeMongo("dlq_list", time.Now(), &err)
	filter = filter.normalized()

	query := bson.M{}
	switch filter.State {
	case StatePending:
		query["resolved_at"] = nil
		query["next_retry_at"] = bson.M{"$ne": nil}
	case StateTerminal:
		query["resolved_at"] = nil
		query["next_retry_at"] = nil
	case StateResolved:
		query["resolved_at"] = bson.M{"$ne": nil}
	}
	if filter.Source != "" {
		query["source"] = filter.Source
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(filter.Offset)).
		SetLimit(int64(filter.Limit))

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, mongoError("list dead letter events", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var ev Event
		if err := cursor.Decode(&ev); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter event: %w", err)
		}
		events = append(events, &ev)
	}
	if err := cursor.Err(); err != nil {
		return nil, mongoError("list dead letter events", err)
	}
	return events, nil
}

func (s *MongoStore) Requeue(ctx context.Context, id string, at time.Time) (err error) {
	defer observeMongo("dlq_requeue", time.Now(), &err)

	filter := bson.M{"_id": id, "resolved_at": nil, "next_retry_at": nil}
	update := bson.M{"$set": bson.M{"next_retry_at": at, "updated_at": at}}

	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return mongoError("requeue dead letter event", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotTerminal.WithDetail("id", id)
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
