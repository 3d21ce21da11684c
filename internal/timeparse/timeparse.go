// Package timeparse turns scraped time-of-day and remaining-minutes text into
// absolute timestamps. All functions are pure so they can be tested without
// any scraping or storage in place.
package timeparse

import (
	"regexp"
	"strconv"
	"time"
)

// Fallback offsets applied when the scraped text cannot be parsed.
const (
	DepartureFallback = 30 * time.Minute
	ArrivalFallback   = 20 * time.Minute
)

var clockPattern = regexp.MustCompile(`([0-2]?[0-9]):([0-5][0-9])`)

// Resolver resolves scraped text into timestamps. The minutes unit marker
// (e.g. "分") is configurable per deployment because it depends on the
// language of the scraped site.
type Resolver struct {
	minutesPattern *regexp.Regexp
}

// NewResolver builds a Resolver whose remaining-minutes pattern matches
// digits followed by the given unit marker.
func NewResolver(minutesUnitMarker string) *Resolver {
	return &Resolver{
		minutesPattern: regexp.MustCompile(`(\d+)\s*` + regexp.QuoteMeta(minutesUnitMarker)),
	}
}

// ResolveClock combines "HH:MM" text with ref's date. Unparsable text returns
// fallback. A result strictly before notBefore is pushed forward one day, so
// a bare time of day always resolves to the next occurrence of that clock
// time relative to notBefore.
func ResolveClock(text string, ref, notBefore, fallback time.Time) time.Time {
	m := clockPattern.FindStringSubmatch(text)
	if m == nil {
		return fallback
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil || hour > 23 {
		return fallback
	}
	minute, _ := strconv.Atoi(m[2])

	resolved := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
	if resolved.Before(notBefore) {
		resolved = resolved.Add(24 * time.Hour)
	}
	return resolved
}

// ScheduledDeparture resolves departure text against now, defaulting to
// now plus the departure fallback.
func ScheduledDeparture(text string, now time.Time) time.Time {
	return ResolveClock(text, now, now, now.Add(DepartureFallback))
}

// ScheduledArrival resolves arrival text against now, anchored on the paired
// departure: it must not precede the departure, and defaults to the departure
// plus the arrival fallback.
func ScheduledArrival(text string, now, scheduledDeparture time.Time) time.Time {
	return ResolveClock(text, now, scheduledDeparture, scheduledDeparture.Add(ArrivalFallback))
}

// PredictedDeparture extracts the remaining minutes from text and returns
// now plus that many minutes. When no minutes figure is present the
// prediction falls back to the scheduled departure.
func (r *Resolver) PredictedDeparture(remainingText string, now, scheduledDeparture time.Time) time.Time {
	minutes, ok := r.RemainingMinutes(remainingText)
	if !ok {
		return scheduledDeparture
	}
	return now.Add(time.Duration(minutes) * time.Minute)
}

// RemainingMinutes extracts the integer minutes figure from remaining-time
// text, reporting whether one was found.
func (r *Resolver) RemainingMinutes(text string) (int, bool) {
	m := r.minutesPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return minutes, true
}

// PredictedArrival shifts the scheduled arrival by the observed departure
// delay. The site exposes no independent arrival-side prediction, so the
// departure delay is propagated as-is.
func PredictedArrival(scheduledArrival, scheduledDeparture, predictedDeparture time.Time) time.Time {
	return scheduledArrival.Add(predictedDeparture.Sub(scheduledDeparture))
}
