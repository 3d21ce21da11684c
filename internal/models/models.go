package models

import "time"

// Destination identifies one of the fixed terminal stops the system tracks,
// together with the navigation target used to reach its prediction page.
type Destination struct {
	Name string `yaml:"name" json:"name" validate:"required"`
	URL  string `yaml:"url" json:"url" validate:"required,url"`
}

// RawEntry is one bus entry as scraped from the rendered page, before any
// time resolution. Every field is untrusted text and may be empty.
type RawEntry struct {
	Destination   string
	BusNumber     string
	StopNumber    string
	DepartureText string
	ArrivalText   string
	RemainingText string
	IsNextBus     bool
}

// BusRecord is the canonical prediction record persisted per scraped entry.
// A zero time.Time means the value could not be determined.
type BusRecord struct {
	Destination        string    `json:"destination" bson:"destination"`
	BusNumber          string    `json:"bus_number" bson:"bus_number"`
	StopNumber         string    `json:"stop_number" bson:"stop_number"`
	ScheduledDeparture time.Time `json:"scheduled_departure_time" bson:"scheduled_departure_time"`
	PredictedDeparture time.Time `json:"predicted_departure_time" bson:"predicted_departure_time"`
	ScheduledArrival   time.Time `json:"scheduled_arrival_time" bson:"scheduled_arrival_time"`
	PredictedArrival   time.Time `json:"predicted_arrival_time" bson:"predicted_arrival_time"`
	EstimatedMinutes   *int      `json:"estimated_departure_minutes" bson:"estimated_departure_minutes"`
	IsNextBus          bool      `json:"is_next_bus" bson:"is_next_bus"`
	IsActive           bool      `json:"is_active" bson:"is_active"`
	CreatedAt          time.Time `json:"created_at" bson:"created_at"`
}

// Delay status values reported by the read API.
const (
	DelayStatusOnTime  = "ON_TIME"
	DelayStatusDelayed = "DELAYED"
	DelayStatusEarly   = "EARLY"
)

// DelayStatus classifies the departure delay as ON_TIME, DELAYED or EARLY.
// Returns nil when either timestamp is missing.
func (r BusRecord) DelayStatus() *string {
	if r.ScheduledDeparture.IsZero() || r.PredictedDeparture.IsZero() {
		return nil
	}
	status := DelayStatusOnTime
	delay := r.PredictedDeparture.Sub(r.ScheduledDeparture).Minutes()
	if delay > 5 {
		status = DelayStatusDelayed
	} else if delay < -5 {
		status = DelayStatusEarly
	}
	return &status
}

// BusRecordView is the API representation of a BusRecord. Times are rendered
// as "HH:MM" strings, missing values as null.
type BusRecordView struct {
	Destination        string  `json:"destination"`
	BusNumber          string  `json:"bus_number"`
	StopNumber         string  `json:"stop_number"`
	ScheduledDeparture *string `json:"scheduled_departure_time"`
	PredictedDeparture *string `json:"predicted_departure_time"`
	ScheduledArrival   *string `json:"scheduled_arrival_time"`
	PredictedArrival   *string `json:"predicted_arrival_time"`
	EstimatedMinutes   *int    `json:"estimated_departure_minutes"`
	IsNextBus          bool    `json:"is_next_bus"`
	DelayStatus        *string `json:"delay_status"`
}

func clockString(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format("15:04")
	return &s
}

// View converts a record to its API representation.
func (r BusRecord) View() BusRecordView {
	return BusRecordView{
		Destination:        r.Destination,
		BusNumber:          r.BusNumber,
		StopNumber:         r.StopNumber,
		ScheduledDeparture: clockString(r.ScheduledDeparture),
		PredictedDeparture: clockString(r.PredictedDeparture),
		ScheduledArrival:   clockString(r.ScheduledArrival),
		PredictedArrival:   clockString(r.PredictedArrival),
		EstimatedMinutes:   r.EstimatedMinutes,
		IsNextBus:          r.IsNextBus,
		DelayStatus:        r.DelayStatus(),
	}
}

// RunResult aggregates per-destination outcomes of one fetch cycle.
type RunResult struct {
	Succeeded int `json:"succeeded"`
	Total     int `json:"total"`
}

// AllSucceeded reports whether every destination was updated.
func (r RunResult) AllSucceeded() bool {
	return r.Succeeded == r.Total
}

// FetchStatus tracks the outcome of fetch cycles for the status endpoints.
type FetchStatus struct {
	LastSuccessfulRun time.Time `json:"last_successful_run" bson:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt" bson:"last_attempt"`
	Status            string    `json:"status" bson:"status"` // "success", "partial", "failure", "running"
	ErrorMessage      string    `json:"error_message,omitempty" bson:"error_message,omitempty"`
	RecordsWritten    int       `json:"records_written" bson:"records_written"`
}
