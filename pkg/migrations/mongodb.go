package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection and field names shared with the ledger and DLQ stores.
const (
	EventsCollection = "inbound_events"
	DLQCollection    = "dlq_events"
	ClaimKeyField    = "claim_key"
)

// EnsureMongoIndexes creates the indexes the ledger and the DLQ rely on.
// The claim_key index is the duplicate barrier and must exist before the
// service accepts traffic.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	eventIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: ClaimKeyField, Value: 1}},
			Options: options.Index().
				SetName("ux_inbound_events_claim").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{ClaimKeyField: bson.M{"$exists": true}}),
		},
		{
			Keys: bson.D{
				{Key: "source", Value: 1},
				{Key: "payload_hash", Value: 1},
				{Key: "processed_at", Value: -1},
			},
			Options: options.Index().SetName("idx_inbound_events_hash"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "received_at", Value: 1}},
			Options: options.Index().SetName("idx_inbound_events_status_received"),
		},
	}
	if err := createIndexes(ctx, db.Collection(EventsCollection), eventIndexes); err != nil {
		return err
	}

	dlqIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "resolved_at", Value: 1}, {Key: "next_retry_at", Value: 1}},
			Options: options.Index().SetName("idx_dlq_events_due"),
		},
		{
			Keys:    bson.D{{Key: "source", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_dlq_events_source_created"),
		},
		{
			Keys:    bson.D{{Key: "webhook_event_id", Value: 1}},
			Options: options.Index().SetName("idx_dlq_events_webhook_event"),
		},
	}
	return createIndexes(ctx, db.Collection(DLQCollection), dlqIndexes)
}

func createIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
	}
	return nil
}
