// Package ingestion runs the scrape-and-normalize pipeline: it drives a
// browser session per fetch cycle, extracts raw entries per destination,
// resolves them into canonical records and commits them as the new active
// snapshot.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/busdash/bus-dashboard-service/internal/browser"
	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/extractor"
	"github.com/busdash/bus-dashboard-service/internal/models"
	"github.com/busdash/bus-dashboard-service/internal/storage"
	"github.com/busdash/bus-dashboard-service/internal/timeparse"
)

// PageRenderer is the slice of a browser session the orchestrator needs.
// It exists so fetch cycles can be tested without a Chromium binary.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
	Close()
}

// SessionFactory opens a fresh browser session for one fetch cycle.
type SessionFactory func(ctx context.Context) (PageRenderer, error)

// DefaultSessionFactory opens real headless browser sessions configured
// from the scrape settings.
func DefaultSessionFactory(cfg config.ScrapeConfig) SessionFactory {
	return func(ctx context.Context) (PageRenderer, error) {
		return browser.Open(ctx, browser.Config{
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.NavigationTimeout,
			WaitTimeout:       cfg.WaitTimeout,
			SettleDelay:       cfg.SettleDelay,
			ContainerSelector: cfg.ContainerSelector,
		})
	}
}

// Service orchestrates fetch cycles across all configured destinations.
type Service struct {
	cfg        config.ScrapeConfig
	storage    storage.Storage
	newSession SessionFactory
	extractor  *extractor.Extractor
	resolver   *timeparse.Resolver
	now        func() time.Time
}

// NewService creates a new fetch orchestrator.
func NewService(cfg config.ScrapeConfig, store storage.Storage, newSession SessionFactory) *Service {
	return &Service{
		cfg:        cfg,
		storage:    store,
		newSession: newSession,
		extractor: extractor.New(extractor.Config{
			EntrySelector:     cfg.EntrySelector,
			BusNumberSelector: cfg.BusNumberSelector,
			StopSelector:      cfg.StopSelector,
			DepartureSelector: cfg.DepartureSelector,
			ArrivalSelector:   cfg.ArrivalSelector,
			RemainingSelector: cfg.RemainingSelector,
		}),
		resolver: timeparse.NewResolver(cfg.MinutesUnitMarker),
		now:      time.Now,
	}
}

// RunFetchCycle executes one full fetch run: deactivate the previous
// snapshot once, then fetch, extract, resolve and persist each destination
// independently. Per-destination failures are logged and skipped; only a
// broken snapshot rollover or an unopenable browser aborts the run.
func (s *Service) RunFetchCycle(ctx context.Context) (models.RunResult, error) {
	result := models.RunResult{Total: len(s.cfg.Destinations)}
	started := s.now()

	log.Infof("Starting bus data fetch for %d destinations", result.Total)

	// Global snapshot rollover. Failed destinations stay without active
	// records until the next successful run.
	if err := s.storage.DeactivateAll(ctx); err != nil {
		err = fmt.Errorf("failed to deactivate previous snapshot: %w", err)
		s.recordStatus(ctx, started, result, 0, err)
		return result, err
	}

	sess, err := s.newSession(ctx)
	if err != nil {
		err = fmt.Errorf("failed to open browser session: %w", err)
		s.recordStatus(ctx, started, result, 0, err)
		return result, err
	}
	defer sess.Close()

	written := 0
	var failures []string
	for _, destination := range s.cfg.Destinations {
		log.Infof("Fetching data for destination: %s", destination.Name)

		n, err := s.fetchDestination(ctx, sess, destination)
		if err != nil {
			log.Errorf("Error fetching data for %s: %v", destination.Name, err)
			failures = append(failures, fmt.Sprintf("%s: %v", destination.Name, err))
			continue
		}

		written += n
		result.Succeeded++
	}

	var runErr error
	if len(failures) > 0 {
		runErr = fmt.Errorf("%s", strings.Join(failures, "; "))
	}
	s.recordStatus(ctx, started, result, written, runErr)

	if result.AllSucceeded() {
		log.Infof("Bus data fetch completed. Successfully updated %d/%d destinations", result.Succeeded, result.Total)
	} else {
		log.Warnf("Bus data fetch completed with errors. Successfully updated %d/%d destinations", result.Succeeded, result.Total)
	}

	return result, nil
}

// fetchDestination renders, extracts, resolves and persists one destination,
// returning the number of records written.
func (s *Service) fetchDestination(ctx context.Context, sess PageRenderer, destination models.Destination) (int, error) {
	html, err := s.renderWithRetry(ctx, sess, destination)
	if err != nil {
		return 0, err
	}

	entries := s.extractor.Extract(html, destination.Name)
	if len(entries) == 0 {
		// The page rendered but listed no buses (end of service, outage
		// notice). Not an error; the destination just has no snapshot.
		return 0, nil
	}

	records := s.resolveEntries(entries)
	if err := s.storage.InsertBatch(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to persist batch for %s: %w", destination.Name, err)
	}

	return len(records), nil
}

// renderWithRetry renders the destination page with up to RetryCount
// attempts separated by a constant backoff delay. Retry policy lives here,
// not in the session, so each destination gets an independent budget.
func (s *Service) renderWithRetry(ctx context.Context, sess PageRenderer, destination models.Destination) (string, error) {
	var html string

	// A retry budget below one would underflow the max-retries conversion
	// into an unbounded loop.
	attempts := s.cfg.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	operation := func() error {
		attempt++
		var err error
		html, err = sess.Render(ctx, destination.URL)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warnf("Attempt %d/%d failed for %s, retrying in %s: %v", attempt, attempts, destination.Name, wait, err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.RetryDelay), uint64(attempts-1)),
		ctx)

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return "", fmt.Errorf("failed after %d attempts: %w", attempts, err)
	}

	return html, nil
}

// resolveEntries converts raw entries into canonical records. All records of
// a batch share one creation timestamp so readers can treat the batch as a
// single snapshot generation.
func (s *Service) resolveEntries(entries []models.RawEntry) []models.BusRecord {
	now := s.now()
	records := make([]models.BusRecord, 0, len(entries))

	for _, entry := range entries {
		scheduledDep := timeparse.ScheduledDeparture(entry.DepartureText, now)
		predictedDep := s.resolver.PredictedDeparture(entry.RemainingText, now, scheduledDep)
		scheduledArr := timeparse.ScheduledArrival(entry.ArrivalText, now, scheduledDep)
		predictedArr := timeparse.PredictedArrival(scheduledArr, scheduledDep, predictedDep)

		var minutes *int
		if m, ok := s.resolver.RemainingMinutes(entry.RemainingText); ok {
			minutes = &m
		}

		records = append(records, models.BusRecord{
			Destination:        entry.Destination,
			BusNumber:          entry.BusNumber,
			StopNumber:         entry.StopNumber,
			ScheduledDeparture: scheduledDep,
			PredictedDeparture: predictedDep,
			ScheduledArrival:   scheduledArr,
			PredictedArrival:   predictedArr,
			EstimatedMinutes:   minutes,
			IsNextBus:          entry.IsNextBus,
			IsActive:           true,
			CreatedAt:          now,
		})
	}

	return records
}

// recordStatus persists the outcome of a run for the status endpoints. A
// failure to record status is logged but never fails the run itself.
func (s *Service) recordStatus(ctx context.Context, started time.Time, result models.RunResult, written int, runErr error) {
	status := models.FetchStatus{
		LastAttempt:    started,
		RecordsWritten: written,
	}

	prior, err := s.storage.GetFetchStatus(ctx)
	if err == nil && prior != nil {
		status.LastSuccessfulRun = prior.LastSuccessfulRun
	}

	switch {
	case runErr != nil && result.Succeeded == 0:
		status.Status = "failure"
		status.ErrorMessage = runErr.Error()
	case runErr != nil:
		status.Status = "partial"
		status.ErrorMessage = runErr.Error()
		status.LastSuccessfulRun = started
	default:
		status.Status = "success"
		status.LastSuccessfulRun = started
	}

	if err := s.storage.UpdateFetchStatus(ctx, status); err != nil {
		log.Errorf("Failed to update fetch status: %v", err)
	}
}
