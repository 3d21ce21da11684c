package storage

import (
	"context"
	"sync"
	"time"

	"github.com/busdash/bus-dashboard-service/internal/models"
)

// MemoryStorage is an in-process Storage implementation used for local
// development and tests. Reads take the read lock only, so they are never
// blocked by a slow fetch cycle between writes.
type MemoryStorage struct {
	mu      sync.RWMutex
	records []models.BusRecord
	status  *models.FetchStatus
}

// NewMemoryStorage creates an empty in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// DeactivateAll marks every active record inactive, across all destinations.
func (m *MemoryStorage) DeactivateAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		m.records[i].IsActive = false
	}
	return nil
}

// InsertBatch appends all records under one lock acquisition, so a reader
// observes either the whole batch or none of it.
func (m *MemoryStorage) InsertBatch(ctx context.Context, records []models.BusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

// LatestActivePerDestination returns at most one record per destination key:
// the most recently created active one.
func (m *MemoryStorage) LatestActivePerDestination(ctx context.Context, destinations []string) ([]models.BusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.BusRecord
	for _, destination := range destinations {
		var latest *models.BusRecord
		for i := range m.records {
			r := &m.records[i]
			if !r.IsActive || r.Destination != destination {
				continue
			}
			// Ties on CreatedAt keep the earlier record, so for a batch
			// written with one timestamp this is the next-bus entry.
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
		if latest != nil {
			result = append(result, *latest)
		}
	}
	return result, nil
}

// History returns all records created at or after since, newest first.
func (m *MemoryStorage) History(ctx context.Context, since time.Time) ([]models.BusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.BusRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if !m.records[i].CreatedAt.Before(since) {
			result = append(result, m.records[i])
		}
	}
	return result, nil
}

// UpdateFetchStatus replaces the stored fetch status.
func (m *MemoryStorage) UpdateFetchStatus(ctx context.Context, status models.FetchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &status
	return nil
}

// GetFetchStatus returns the stored fetch status, or a never_run default.
func (m *MemoryStorage) GetFetchStatus(ctx context.Context) (*models.FetchStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == nil {
		return &models.FetchStatus{Status: "never_run"}, nil
	}
	status := *m.status
	return &status, nil
}

// Close is a no-op for in-memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}

// ActiveCount reports how many active records exist for destination. Test
// helper; not part of the Storage interface.
func (m *MemoryStorage) ActiveCount(destination string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for i := range m.records {
		if m.records[i].IsActive && m.records[i].Destination == destination {
			count++
		}
	}
	return count
}
