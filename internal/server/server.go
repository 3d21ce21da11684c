package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/models"
	"github.com/busdash/bus-dashboard-service/internal/storage"
)

const timestampFormat = "2006-01-02 15:04:05"

// Server exposes the read API over the snapshot store.
type Server struct {
	config       config.ServerConfig
	storage      storage.Storage
	destinations []string
	startedAt    time.Time
	server       *http.Server
}

// NewServer creates the HTTP read API for the given destination set.
func NewServer(cfg config.ServerConfig, store storage.Storage, destinations []models.Destination) *Server {
	names := make([]string, len(destinations))
	for i, d := range destinations {
		names[i] = d.Name
	}

	s := &Server{
		config:       cfg,
		storage:      store,
		destinations: names,
		startedAt:    time.Now(),
	}

	router := chi.NewRouter()
	router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
	}).Handler)
	router.Use(middleware.Logger)

	router.Get("/health", s.handleHealth)
	router.Get("/api/bus-info", s.handleBusInfo)
	router.Get("/api/bus-info/history", s.handleBusHistory)
	router.Get("/api/system-status", s.handleSystemStatus)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type systemStatusView struct {
	DataSource           string `json:"data_source"`
	LastSuccessfulUpdate string `json:"last_successful_update"`
	Health               string `json:"health"`
}

type busInfoResponse struct {
	UpdateTime   string                 `json:"update_time"`
	SystemStatus systemStatusView       `json:"system_status"`
	Destinations []models.BusRecordView `json:"destinations"`
}

// handleBusInfo returns the latest active record for each destination.
func (s *Server) handleBusInfo(w http.ResponseWriter, r *http.Request) {
	records, err := s.storage.LatestActivePerDestination(r.Context(), s.destinations)
	if err != nil {
		log.Errorf("Error retrieving bus info: %v", err)
		writeError(w, "Failed to retrieve bus information", err)
		return
	}

	status, err := s.storage.GetFetchStatus(r.Context())
	if err != nil {
		log.Errorf("Error retrieving fetch status: %v", err)
		writeError(w, "Failed to retrieve bus information", err)
		return
	}

	views := make([]models.BusRecordView, 0, len(records))
	for _, record := range records {
		views = append(views, record.View())
	}

	writeJSON(w, http.StatusOK, busInfoResponse{
		UpdateTime: time.Now().Format(timestampFormat),
		SystemStatus: systemStatusView{
			DataSource:           "scraper",
			LastSuccessfulUpdate: formatTimestamp(status.LastSuccessfulRun),
			Health:               healthFor(status),
		},
		Destinations: views,
	})
}

// handleBusHistory returns records from the past N hours (default 24).
func (s *Server) handleBusHistory(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil || h <= 0 {
			http.Error(w, "Invalid hours parameter", http.StatusBadRequest)
			return
		}
		hours = h
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	records, err := s.storage.History(r.Context(), since)
	if err != nil {
		log.Errorf("Error retrieving bus history: %v", err)
		writeError(w, "Failed to retrieve bus history", err)
		return
	}

	views := make([]models.BusRecordView, 0, len(records))
	for _, record := range records {
		views = append(views, record.View())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hours":   hours,
		"count":   len(views),
		"records": views,
	})
}

// handleSystemStatus reports overall service health.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.storage.GetFetchStatus(r.Context())
	if err != nil {
		log.Errorf("Error retrieving system status: %v", err)
		writeError(w, "Failed to retrieve system status", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "operational",
		"last_update": formatTimestamp(status.LastAttempt),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"data_source": "scraper",
		"health":      healthFor(status),
	})
}

func healthFor(status *models.FetchStatus) string {
	switch status.Status {
	case "success":
		return "OK"
	case "partial":
		return "DEGRADED"
	case "failure":
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	return t.Format(timestampFormat)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, message string, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   message,
		"details": err.Error(),
	})
}
