package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/models"
)

func configFor(storageType string) config.StorageConfig {
	return config.StorageConfig{Type: storageType}
}

func record(destination string, createdAt time.Time, isNextBus bool) models.BusRecord {
	return models.BusRecord{
		Destination: destination,
		BusNumber:   "鷹51",
		StopNumber:  "1",
		IsNextBus:   isNextBus,
		IsActive:    true,
		CreatedAt:   createdAt,
	}
}

func TestMemoryStorage_SnapshotRollover(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	first := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	require.NoError(t, store.InsertBatch(ctx, []models.BusRecord{
		record("三鷹駅", first, true),
		record("吉祥寺駅", first, true),
	}))

	// New fetch cycle: everything is deactivated before new records land.
	require.NoError(t, store.DeactivateAll(ctx))
	assert.Zero(t, store.ActiveCount("三鷹駅"))
	assert.Zero(t, store.ActiveCount("吉祥寺駅"))

	second := first.Add(5 * time.Minute)
	require.NoError(t, store.InsertBatch(ctx, []models.BusRecord{record("三鷹駅", second, true)}))

	active, err := store.LatestActivePerDestination(ctx, []string{"三鷹駅", "吉祥寺駅"})
	require.NoError(t, err)

	// 吉祥寺駅 failed this cycle, so it has no active record until the
	// next successful run.
	require.Len(t, active, 1)
	assert.Equal(t, "三鷹駅", active[0].Destination)
	assert.Equal(t, second, active[0].CreatedAt)
}

func TestMemoryStorage_AtMostOnePerDestination(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	require.NoError(t, store.InsertBatch(ctx, []models.BusRecord{
		record("三鷹駅", now, true),
		record("三鷹駅", now, false),
		record("三鷹駅", now, false),
	}))

	active, err := store.LatestActivePerDestination(ctx, []string{"三鷹駅"})
	require.NoError(t, err)

	require.Len(t, active, 1)
	// Ties on creation time resolve to the first record of the batch,
	// which is the next bus.
	assert.True(t, active[0].IsNextBus)
}

func TestMemoryStorage_LatestWinsAcrossGenerations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	older := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	newer := older.Add(5 * time.Minute)

	// An older record left active by mistake must lose to the newer one.
	require.NoError(t, store.InsertBatch(ctx, []models.BusRecord{record("三鷹駅", older, true)}))
	require.NoError(t, store.InsertBatch(ctx, []models.BusRecord{record("三鷹駅", newer, true)}))

	active, err := store.LatestActivePerDestination(ctx, []string{"三鷹駅"})
	require.NoError(t, err)

	require.Len(t, active, 1)
	assert.Equal(t, newer, active[0].CreatedAt)
}

func TestMemoryStorage_History(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)
	require.NoError(t, store.InsertBatch(ctx, []models.BusRecord{
		record("三鷹駅", old, true),
		record("三鷹駅", recent, true),
	}))

	records, err := store.History(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, recent, records[0].CreatedAt)
}

func TestMemoryStorage_FetchStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()

	status, err := store.GetFetchStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "never_run", status.Status)

	require.NoError(t, store.UpdateFetchStatus(ctx, models.FetchStatus{Status: "success", RecordsWritten: 6}))

	status, err = store.GetFetchStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, 6, status.RecordsWritten)
}

func TestNewStorage_Memory(t *testing.T) {
	store, err := NewStorage(configFor("memory"))
	require.NoError(t, err)
	assert.IsType(t, &MemoryStorage{}, store)
	assert.NoError(t, store.Close())
}

func TestNewStorage_UnsupportedType(t *testing.T) {
	_, err := NewStorage(configFor("etcd"))
	assert.Error(t, err)
}
