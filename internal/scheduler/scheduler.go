// Package scheduler triggers fetch cycles on the configured cron cadences:
// a dense one during day hours and a sparse one at night, plus one run at
// startup. Missed triggers while the process is down are skipped, not
// queued.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/models"
)

// FetchRunner runs one fetch cycle. Implemented by ingestion.Service.
type FetchRunner interface {
	RunFetchCycle(ctx context.Context) (models.RunResult, error)
}

// Scheduler owns the cron loop driving periodic fetch cycles.
type Scheduler struct {
	cfg    config.ScheduleConfig
	runner FetchRunner
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler for the given runner.
func New(cfg config.ScheduleConfig, runner FetchRunner) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Start registers both cadences, kicks off one immediate fetch cycle in the
// background, and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.cfg.DaytimeSpec, s.runGuarded); err != nil {
		return fmt.Errorf("invalid daytime cron spec %q: %w", s.cfg.DaytimeSpec, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.NighttimeSpec, s.runGuarded); err != nil {
		return fmt.Errorf("invalid nighttime cron spec %q: %w", s.cfg.NighttimeSpec, err)
	}

	go s.runGuarded()
	s.cron.Start()

	log.Infof("Fetch scheduler started (day: %q, night: %q)", s.cfg.DaytimeSpec, s.cfg.NighttimeSpec)
	return nil
}

// runGuarded runs one fetch cycle and never lets a failure or panic escape
// into the cron loop or the startup goroutine.
func (s *Scheduler) runGuarded() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Scheduled bus data fetch panicked: %v", r)
		}
	}()

	if s.ctx.Err() != nil {
		return
	}

	log.Info("Scheduled bus data fetch triggered")
	result, err := s.runner.RunFetchCycle(s.ctx)
	if err != nil {
		log.Errorf("Scheduled bus data fetch failed: %v", err)
		return
	}
	if !result.AllSucceeded() {
		log.Warnf("Scheduled bus data fetch completed with errors (%d/%d destinations)", result.Succeeded, result.Total)
		return
	}
	log.Info("Scheduled bus data fetch completed successfully")
}

// Stop cancels future triggers without waiting for an in-flight run; the
// run observes the cancelled context and winds down cooperatively.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.cron.Stop()
	log.Info("Fetch scheduler stopped")
}
