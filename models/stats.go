package models

import (
	"time"
)

// MetricStats is a read-only snapshot of one metric's session statistics.
// Avg is zero when Count is zero; callers should check Count before
// interpreting it.
type MetricStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Count int64   `json:"count"`
}

// StatsSnapshot captures both metrics' statistics for the current session
// window.
type StatsSnapshot struct {
	Temperature MetricStats `json:"temperature"`
	Humidity    MetricStats `json:"humidity"`
	WindowStart time.Time   `json:"window_start"`
}
