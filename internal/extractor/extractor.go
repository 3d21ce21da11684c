// Package extractor parses rendered prediction pages into raw bus entries.
// The markup is adversarial and unstable, so extraction never fails: missing
// fields degrade to sentinel values and a broken entry is still emitted.
package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	log "github.com/sirupsen/logrus"

	"github.com/busdash/bus-dashboard-service/internal/models"
)

// Only the nearest buses matter downstream.
const maxEntriesPerDestination = 3

// Sentinel values for fields missing from the page.
const (
	UnknownBusNumber  = "unknown"
	DefaultStopNumber = "1"
)

// Config holds the deployment-specific selectors. The defaults mirror the
// markup of the currently configured site; core logic does not depend on
// any particular class names.
type Config struct {
	EntrySelector     string
	BusNumberSelector string
	StopSelector      string
	DepartureSelector string
	ArrivalSelector   string
	RemainingSelector string
}

func (c Config) withDefaults() Config {
	if c.EntrySelector == "" {
		c.EntrySelector = ".bus-entry"
	}
	if c.BusNumberSelector == "" {
		c.BusNumberSelector = ".bus-number"
	}
	if c.StopSelector == "" {
		c.StopSelector = ".stop-number"
	}
	if c.DepartureSelector == "" {
		c.DepartureSelector = ".scheduled-departure"
	}
	if c.ArrivalSelector == "" {
		c.ArrivalSelector = ".scheduled-arrival"
	}
	if c.RemainingSelector == "" {
		c.RemainingSelector = ".remaining-time"
	}
	return c
}

// Extractor pulls raw bus entries out of rendered HTML.
type Extractor struct {
	cfg Config
}

// New creates an Extractor with the given selector configuration.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

// Extract parses html into at most three raw entries for destination, in
// page order. The first entry in page order is flagged as the next bus; the
// source lists buses chronologically and we do not re-sort.
func (e *Extractor) Extract(html, destination string) []models.RawEntry {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Warnf("Failed to parse page for %s: %v", destination, err)
		return nil
	}

	var entries []models.RawEntry
	doc.Find(e.cfg.EntrySelector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= maxEntriesPerDestination {
			return false
		}

		entry := models.RawEntry{
			Destination:   destination,
			BusNumber:     textOr(sel, e.cfg.BusNumberSelector, UnknownBusNumber),
			StopNumber:    textOr(sel, e.cfg.StopSelector, DefaultStopNumber),
			DepartureText: textOr(sel, e.cfg.DepartureSelector, ""),
			ArrivalText:   textOr(sel, e.cfg.ArrivalSelector, ""),
			RemainingText: textOr(sel, e.cfg.RemainingSelector, ""),
			IsNextBus:     i == 0,
		}
		entries = append(entries, entry)
		return true
	})

	if len(entries) == 0 {
		log.Warnf("No bus entries found for %s", destination)
	}

	return entries
}

func textOr(sel *goquery.Selection, selector, fallback string) string {
	text := strings.TrimSpace(sel.Find(selector).First().Text())
	if text == "" {
		return fallback
	}
	return text
}
