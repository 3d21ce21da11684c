package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/models"
)

// Storage is the snapshot store consumed by the fetch orchestrator and read
// by the API layer. Records are append-only; the active flag, not the
// creation timestamp, is authoritative for "current" status.
//
// InsertBatch is transactional per call: a concurrent reader sees either all
// records of a batch or none of them.
type Storage interface {
	DeactivateAll(ctx context.Context) error
	InsertBatch(ctx context.Context, records []models.BusRecord) error
	LatestActivePerDestination(ctx context.Context, destinations []string) ([]models.BusRecord, error)
	History(ctx context.Context, since time.Time) ([]models.BusRecord, error)
	UpdateFetchStatus(ctx context.Context, status models.FetchStatus) error
	GetFetchStatus(ctx context.Context) (*models.FetchStatus, error)
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(cfg)
	case "postgresql":
		return NewPostgreSQLStorage(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
