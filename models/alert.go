package models

import (
	"time"
)

// Metric identifies which measurement an alert refers to.
type Metric string

const (
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
)

// AlertLevel classifies alert severity.
type AlertLevel string

const (
	LevelWarning  AlertLevel = "warning"
	LevelCritical AlertLevel = "critical"
)

// AlertState tracks the alert condition of one metric. Mutated only by the
// evaluator. LastNotifiedAt is cleared exactly when Active drops back to
// false, so a cooldown never survives a resolved incident.
type AlertState struct {
	Active         bool
	LastNotifiedAt *time.Time
}

// AlertDecision is the transient output of one evaluation pass for one
// metric. It is consumed immediately by the dispatcher and never persisted.
type AlertDecision struct {
	Metric     Metric
	Level      AlertLevel
	Value      float64
	Threshold  float64
	IsNewAlert bool
	NotifyNow  bool
	Reading    Reading
}

// AlertEvent is the outbound alert payload pushed to live subscribers and
// handed to the external notifiers. Temperature and Humidity carry the full
// sample for notification bodies; they are not part of the wire contract.
type AlertEvent struct {
	Type      Metric     `json:"type"`
	Value     float64    `json:"value"`
	Threshold float64    `json:"threshold"`
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
	Timestamp string     `json:"timestamp"`

	Temperature float64 `json:"-"`
	Humidity    float64 `json:"-"`
}

// Emoji returns the marker used in notification messages.
func (e *AlertEvent) Emoji() string {
	switch {
	case e.Type == MetricTemperature && e.Level == LevelCritical:
		return "🔥"
	case e.Type == MetricTemperature:
		return "🌡️"
	case e.Type == MetricHumidity:
		return "💧"
	default:
		return "⚠️"
	}
}

// Unit returns the display unit for the metric.
func (e *AlertEvent) Unit() string {
	if e.Type == MetricTemperature {
		return "°C"
	}
	return "%"
}
