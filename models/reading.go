package models

import (
	"time"
)

// Reading represents one validated temperature+humidity sample from a sensor
// device. Readings are immutable once decoded; the ID is assigned by the
// store on insert.
type Reading struct {
	ID          int64     `json:"id,omitempty"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	MeasuredAt  time.Time `json:"measured_at"`
}

// LiveUpdate is the payload broadcast to live subscribers for every accepted
// reading, independent of alert state.
type LiveUpdate struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	MeasuredAt  string  `json:"measured_at"`
}

// NewLiveUpdate builds the broadcast payload for a reading.
func NewLiveUpdate(r *Reading) *LiveUpdate {
	return &LiveUpdate{
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		MeasuredAt:  r.MeasuredAt.Format(time.RFC3339),
	}
}
