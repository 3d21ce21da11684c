package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/models"
)

// MongoDBStorage implements Storage using MongoDB.
type MongoDBStorage struct {
	client  *mongo.Client
	records *mongo.Collection
	status  *mongo.Collection
}

// NewMongoDBStorage connects to MongoDB.
func NewMongoDBStorage(cfg config.StorageConfig) (*MongoDBStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	return &MongoDBStorage{
		client:  client,
		records: db.Collection("bus_records"),
		status:  db.Collection("fetch_status"),
	}, nil
}

// DeactivateAll marks every active record inactive.
func (m *MongoDBStorage) DeactivateAll(ctx context.Context) error {
	_, err := m.records.UpdateMany(ctx,
		bson.M{"is_active": true},
		bson.M{"$set": bson.M{"is_active": false}})
	if err != nil {
		return fmt.Errorf("failed to deactivate records: %w", err)
	}
	return nil
}

// InsertBatch writes all records in one InsertMany call.
func (m *MongoDBStorage) InsertBatch(ctx context.Context, records []models.BusRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, len(records))
	for i, r := range records {
		docs[i] = r
	}

	if _, err := m.records.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// LatestActivePerDestination returns the most recently created active record
// for each destination.
func (m *MongoDBStorage) LatestActivePerDestination(ctx context.Context, destinations []string) ([]models.BusRecord, error) {
	var result []models.BusRecord
	for _, destination := range destinations {
		var record models.BusRecord
		err := m.records.FindOne(ctx,
			bson.M{"destination": destination, "is_active": true},
			options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
		).Decode(&record)
		if err == mongo.ErrNoDocuments {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query active record for %s: %w", destination, err)
		}
		result = append(result, record)
	}
	return result, nil
}

// History returns records created at or after since, newest first.
func (m *MongoDBStorage) History(ctx context.Context, since time.Time) ([]models.BusRecord, error) {
	cursor, err := m.records.Find(ctx,
		bson.M{"created_at": bson.M{"$gte": since}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.BusRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return records, nil
}

// UpdateFetchStatus upserts the single fetch status document.
func (m *MongoDBStorage) UpdateFetchStatus(ctx context.Context, status models.FetchStatus) error {
	_, err := m.status.ReplaceOne(ctx,
		bson.M{"_id": "fetch_status"},
		struct {
			ID                 string `bson:"_id"`
			models.FetchStatus `bson:",inline"`
		}{ID: "fetch_status", FetchStatus: status},
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to update fetch status: %w", err)
	}
	return nil
}

// GetFetchStatus returns the fetch status, or a never_run default.
func (m *MongoDBStorage) GetFetchStatus(ctx context.Context) (*models.FetchStatus, error) {
	var status models.FetchStatus
	err := m.status.FindOne(ctx, bson.M{"_id": "fetch_status"}).Decode(&status)
	if err == mongo.ErrNoDocuments {
		return &models.FetchStatus{Status: "never_run"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fetch status: %w", err)
	}
	return &status, nil
}

// Close disconnects the MongoDB client.
func (m *MongoDBStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
