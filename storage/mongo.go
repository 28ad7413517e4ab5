package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"argus/core"
)

// MongoAlertStore persists alerts in MongoDB for deployments that already
// run one. Implements AlertStore.
type MongoAlertStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.SugaredLogger
}

// NewMongoAlertStore connects and ensures the fingerprint index
func NewMongoAlertStore(ctx context.Context, uri, database string, logger *zap.SugaredLogger) (*MongoAlertStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	collection := client.Database(database).Collection("alerts")
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "fingerprint", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Warnf("Failed to create alert indexes: %v", err)
	}

	return &MongoAlertStore{client: client, collection: collection, logger: logger}, nil
}

// Ping verifies the connection is alive
func (s *MongoAlertStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the underlying client
func (s *MongoAlertStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// InsertAlert implements AlertStore
func (s *MongoAlertStore) InsertAlert(ctx context.Context, alert *core.Alert) error {
	if _, err := s.collection.InsertOne(ctx, alert); err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// UpdateAlert implements AlertStore
func (s *MongoAlertStore) UpdateAlert(ctx context.Context, alert *core.Alert) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": alert.ID},
		bson.M{"$set": bson.M{
			"status":           alert.Status,
			"escalation_level": alert.EscalationLevel,
			"acknowledged_by":  alert.AcknowledgedBy,
			"acknowledged_at":  alert.AcknowledgedAt,
			"resolved_at":      alert.ResolvedAt,
		}})
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrAlertNotFound
	}
	return nil
}

// GetAlert implements AlertStore
func (s *MongoAlertStore) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	var alert core.Alert
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&alert)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &alert, nil
}

// FindAlertsByFingerprint implements AlertStore
func (s *MongoAlertStore) FindAlertsByFingerprint(ctx context.Context, fingerprint string, windowStart time.Time) ([]*core.Alert, error) {
	cursor, err := s.collection.Find(ctx,
		bson.M{
			"fingerprint": fingerprint,
			"timestamp":   bson.M{"$gte": windowStart},
		},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts by fingerprint: %w", err)
	}
	defer cursor.Close(ctx)

	var alerts []*core.Alert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return alerts, nil
}

// ListAlerts implements AlertStore
func (s *MongoAlertStore) ListAlerts(ctx context.Context, status core.AlertStatus) ([]*core.Alert, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	cursor, err := s.collection.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer cursor.Close(ctx)

	var alerts []*core.Alert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return alerts, nil
}

// DeleteResolvedBefore implements AlertStore
func (s *MongoAlertStore) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.collection.DeleteMany(ctx, bson.M{
		"status":      core.AlertStatusResolved,
		"resolved_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
	}
	return int(res.DeletedCount), nil
}
