package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/models"
	"github.com/busdash/bus-dashboard-service/internal/storage"
)

var testDestinations = []models.Destination{
	{Name: "三鷹駅", URL: "https://navi/mitaka"},
	{Name: "吉祥寺駅", URL: "https://navi/kichijoji"},
}

func seedRecord(t *testing.T, store storage.Storage, destination string, scheduled, predicted time.Time) {
	t.Helper()
	minutes := 5
	err := store.InsertBatch(context.Background(), []models.BusRecord{{
		Destination:        destination,
		BusNumber:          "鷹51",
		StopNumber:         "2",
		ScheduledDeparture: scheduled,
		PredictedDeparture: predicted,
		ScheduledArrival:   scheduled.Add(20 * time.Minute),
		PredictedArrival:   predicted.Add(20 * time.Minute),
		EstimatedMinutes:   &minutes,
		IsNextBus:          true,
		IsActive:           true,
		CreatedAt:          time.Now(),
	}})
	require.NoError(t, err)
}

func getJSON(t *testing.T, handler http.Handler, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestHandleBusInfo(t *testing.T) {
	store := storage.NewMemoryStorage()
	scheduled := time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)
	seedRecord(t, store, "三鷹駅", scheduled, scheduled.Add(7*time.Minute))
	require.NoError(t, store.UpdateFetchStatus(context.Background(), models.FetchStatus{
		Status:            "success",
		LastSuccessfulRun: time.Now(),
	}))

	srv := NewServer(config.ServerConfig{Port: 0}, store, testDestinations)

	var body struct {
		UpdateTime   string `json:"update_time"`
		SystemStatus struct {
			DataSource           string `json:"data_source"`
			LastSuccessfulUpdate string `json:"last_successful_update"`
			Health               string `json:"health"`
		} `json:"system_status"`
		Destinations []models.BusRecordView `json:"destinations"`
	}
	rec := getJSON(t, srv.Handler(), "/api/bus-info", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body.SystemStatus.Health)
	assert.Equal(t, "scraper", body.SystemStatus.DataSource)
	require.Len(t, body.Destinations, 1)

	view := body.Destinations[0]
	assert.Equal(t, "三鷹駅", view.Destination)
	require.NotNil(t, view.ScheduledDeparture)
	assert.Equal(t, "10:00", *view.ScheduledDeparture)
	require.NotNil(t, view.DelayStatus)
	assert.Equal(t, models.DelayStatusDelayed, *view.DelayStatus)
	assert.True(t, view.IsNextBus)
}

func TestHandleBusInfo_EmptySnapshot(t *testing.T) {
	srv := NewServer(config.ServerConfig{Port: 0}, storage.NewMemoryStorage(), testDestinations)

	var body struct {
		SystemStatus struct {
			Health               string `json:"health"`
			LastSuccessfulUpdate string `json:"last_successful_update"`
		} `json:"system_status"`
		Destinations []models.BusRecordView `json:"destinations"`
	}
	rec := getJSON(t, srv.Handler(), "/api/bus-info", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body.Destinations)
	assert.Equal(t, "UNKNOWN", body.SystemStatus.Health)
	assert.Equal(t, "N/A", body.SystemStatus.LastSuccessfulUpdate)
}

func TestHandleBusHistory(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Now()
	seedRecord(t, store, "三鷹駅", now, now.Add(3*time.Minute))

	srv := NewServer(config.ServerConfig{Port: 0}, store, testDestinations)

	var body struct {
		Hours   int                    `json:"hours"`
		Count   int                    `json:"count"`
		Records []models.BusRecordView `json:"records"`
	}
	rec := getJSON(t, srv.Handler(), "/api/bus-info/history?hours=2", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, body.Hours)
	assert.Equal(t, 1, body.Count)
	require.Len(t, body.Records, 1)
	require.NotNil(t, body.Records[0].DelayStatus)
	assert.Equal(t, models.DelayStatusOnTime, *body.Records[0].DelayStatus)
}

func TestHandleBusHistory_InvalidHours(t *testing.T) {
	srv := NewServer(config.ServerConfig{Port: 0}, storage.NewMemoryStorage(), testDestinations)

	rec := getJSON(t, srv.Handler(), "/api/bus-info/history?hours=abc", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSystemStatus(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.UpdateFetchStatus(context.Background(), models.FetchStatus{
		Status:      "partial",
		LastAttempt: time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local),
	}))

	srv := NewServer(config.ServerConfig{Port: 0}, store, testDestinations)

	var body map[string]string
	rec := getJSON(t, srv.Handler(), "/api/system-status", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, "DEGRADED", body["health"])
	assert.Equal(t, "2024-03-15 10:00:00", body["last_update"])
	assert.Equal(t, "scraper", body["data_source"])
	assert.NotEmpty(t, body["uptime"])
}

func TestHandleHealth(t *testing.T) {
	srv := NewServer(config.ServerConfig{Port: 0}, storage.NewMemoryStorage(), testDestinations)

	var body map[string]string
	rec := getJSON(t, srv.Handler(), "/health", &body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}
