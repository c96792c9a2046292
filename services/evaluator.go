package services

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"atmos/config"
	"atmos/models"
)

// AlertEvaluator runs one threshold state machine per metric. A metric is
// Normal until its value reaches the threshold, then Active until the value
// drops below threshold minus the hysteresis band. The two machines never
// interact.
//
// Evaluate must see readings in arrival order; the internal mutex serializes
// concurrent callers but does not reorder them, so the caller owns ordering.
type AlertEvaluator struct {
	config *config.Config
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	temp  models.AlertState
	humid models.AlertState
}

func NewAlertEvaluator(cfg *config.Config, logger *zap.Logger) *AlertEvaluator {
	return &AlertEvaluator{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate advances both metric state machines with one reading and returns
// a decision for every metric currently breaching its threshold.
func (e *AlertEvaluator) Evaluate(r *models.Reading) []models.AlertDecision {
	e.mu.Lock()
	defer e.mu.Unlock()

	var decisions []models.AlertDecision
	if d := e.evaluateMetric(models.MetricTemperature, r.Temperature,
		e.config.TempThreshold, e.config.TempHysteresis, &e.temp, r); d != nil {
		decisions = append(decisions, *d)
	}
	if d := e.evaluateMetric(models.MetricHumidity, r.Humidity,
		e.config.HumidityThreshold, e.config.HumidityHysteresis, &e.humid, r); d != nil {
		decisions = append(decisions, *d)
	}
	return decisions
}

func (e *AlertEvaluator) evaluateMetric(metric models.Metric, value, threshold, hysteresis float64,
	state *models.AlertState, r *models.Reading) *models.AlertDecision {

	if value >= threshold {
		isNew := !state.Active
		state.Active = true

		// Humidity has no critical tier; only temperature escalates.
		level := models.LevelWarning
		if metric == models.MetricTemperature && value >= threshold+e.config.TempCriticalOffset {
			level = models.LevelCritical
		}

		notifyNow := state.LastNotifiedAt == nil ||
			e.now().Sub(*state.LastNotifiedAt) >= e.config.Cooldown

		if isNew {
			e.logger.Warn("Alert condition entered",
				zap.String("metric", string(metric)),
				zap.Float64("value", value),
				zap.Float64("threshold", threshold),
				zap.String("level", string(level)),
			)
		}

		return &models.AlertDecision{
			Metric:     metric,
			Level:      level,
			Value:      value,
			Threshold:  threshold,
			IsNewAlert: isNew,
			NotifyNow:  notifyNow,
			Reading:    *r,
		}
	}

	// Values inside the hysteresis band keep the alert active to prevent
	// chatter around the threshold boundary.
	if state.Active && value < threshold-hysteresis {
		state.Active = false
		state.LastNotifiedAt = nil
		e.logger.Info("Alert condition cleared",
			zap.String("metric", string(metric)),
			zap.Float64("value", value),
			zap.Float64("threshold", threshold),
		)
	}
	return nil
}

// RecordNotification advances the cooldown clock for a metric. Called by the
// dispatcher only after a successful outbound send, so a failed send stays
// retryable on the next qualifying reading. A send completing after the
// condition already cleared is ignored.
func (e *AlertEvaluator) RecordNotification(metric models.Metric, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.stateFor(metric)
	if state == nil || !state.Active {
		return
	}
	state.LastNotifiedAt = &at
}

// States returns snapshot copies of both alert states for status queries.
func (e *AlertEvaluator) States() (temp, humid models.AlertState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	temp = copyState(e.temp)
	humid = copyState(e.humid)
	return temp, humid
}

func (e *AlertEvaluator) stateFor(metric models.Metric) *models.AlertState {
	switch metric {
	case models.MetricTemperature:
		return &e.temp
	case models.MetricHumidity:
		return &e.humid
	}
	return nil
}

func copyState(s models.AlertState) models.AlertState {
	out := models.AlertState{Active: s.Active}
	if s.LastNotifiedAt != nil {
		ts := *s.LastNotifiedAt
		out.LastNotifiedAt = &ts
	}
	return out
}
