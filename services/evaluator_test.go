package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atmos/config"
	"atmos/models"
)

func testAlertConfig() *config.Config {
	return &config.Config{
		TempThreshold:      35.0,
		HumidityThreshold:  80.0,
		TempCriticalOffset: 5.0,
		TempHysteresis:     2.0,
		HumidityHysteresis: 5.0,
		Cooldown:           15 * time.Minute,
	}
}

func newTestEvaluator(t *testing.T) (*AlertEvaluator, *time.Time) {
	t.Helper()
	e := NewAlertEvaluator(testAlertConfig(), zap.NewNop())
	clock := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return clock }
	return e, &clock
}

func evalTemp(e *AlertEvaluator, temp float64) *models.AlertDecision {
	decisions := e.Evaluate(&models.Reading{Temperature: temp, Humidity: 50.0, MeasuredAt: time.Now()})
	for i := range decisions {
		if decisions[i].Metric == models.MetricTemperature {
			return &decisions[i]
		}
	}
	return nil
}

func TestEvaluator_HysteresisScenario(t *testing.T) {
	e, _ := newTestEvaluator(t)

	// 36.0 breaches: new warning alert
	d := evalTemp(e, 36.0)
	require.NotNil(t, d)
	assert.Equal(t, models.LevelWarning, d.Level)
	assert.True(t, d.IsNewAlert)
	assert.Equal(t, 35.0, d.Threshold)

	// 40.0 while active: critical, not new
	d = evalTemp(e, 40.0)
	require.NotNil(t, d)
	assert.Equal(t, models.LevelCritical, d.Level)
	assert.False(t, d.IsNewAlert)

	// 33.5 is inside the hysteresis band (>= 35-2): stays active, no decision
	d = evalTemp(e, 33.5)
	assert.Nil(t, d)
	temp, _ := e.States()
	assert.True(t, temp.Active)

	// 32.9 drops below the band: back to normal
	d = evalTemp(e, 32.9)
	assert.Nil(t, d)
	temp, _ = e.States()
	assert.False(t, temp.Active)

	// next breach is a new alert again
	d = evalTemp(e, 36.0)
	require.NotNil(t, d)
	assert.True(t, d.IsNewAlert)
}

func TestEvaluator_CooldownGate(t *testing.T) {
	e, clock := newTestEvaluator(t)

	d := evalTemp(e, 36.0)
	require.NotNil(t, d)
	assert.True(t, d.NotifyNow)
	e.RecordNotification(models.MetricTemperature, *clock)

	// one minute later: still active, notification suppressed
	*clock = clock.Add(1 * time.Minute)
	d = evalTemp(e, 36.5)
	require.NotNil(t, d)
	assert.False(t, d.NotifyNow)

	// sixteen minutes after the first send: cooldown elapsed, re-notify even
	// though the alert is not new
	*clock = clock.Add(15 * time.Minute)
	d = evalTemp(e, 36.5)
	require.NotNil(t, d)
	assert.False(t, d.IsNewAlert)
	assert.True(t, d.NotifyNow)
}

func TestEvaluator_FailedSendStaysRetryable(t *testing.T) {
	e, clock := newTestEvaluator(t)

	d := evalTemp(e, 36.0)
	require.NotNil(t, d)
	assert.True(t, d.NotifyNow)
	// no RecordNotification: the send failed

	*clock = clock.Add(1 * time.Minute)
	d = evalTemp(e, 36.0)
	require.NotNil(t, d)
	assert.True(t, d.NotifyNow, "failed send must be retryable on the next qualifying reading")
}

func TestEvaluator_CooldownClearedWithAlert(t *testing.T) {
	e, clock := newTestEvaluator(t)

	evalTemp(e, 36.0)
	e.RecordNotification(models.MetricTemperature, *clock)
	temp, _ := e.States()
	require.NotNil(t, temp.LastNotifiedAt)

	// alert resolves: cooldown must not persist across the incident
	evalTemp(e, 30.0)
	temp, _ = e.States()
	assert.False(t, temp.Active)
	assert.Nil(t, temp.LastNotifiedAt)

	// a new incident a minute later notifies immediately
	*clock = clock.Add(1 * time.Minute)
	d := evalTemp(e, 36.0)
	require.NotNil(t, d)
	assert.True(t, d.NotifyNow)
}

func TestEvaluator_RecordNotificationIgnoredAfterClear(t *testing.T) {
	e, clock := newTestEvaluator(t)

	evalTemp(e, 36.0)
	evalTemp(e, 30.0) // cleared before the send completed

	e.RecordNotification(models.MetricTemperature, *clock)
	temp, _ := e.States()
	assert.Nil(t, temp.LastNotifiedAt)
}

func TestEvaluator_HumidityAlwaysWarning(t *testing.T) {
	e, _ := newTestEvaluator(t)

	decisions := e.Evaluate(&models.Reading{Temperature: 20.0, Humidity: 95.0, MeasuredAt: time.Now()})
	require.Len(t, decisions, 1)
	assert.Equal(t, models.MetricHumidity, decisions[0].Metric)
	assert.Equal(t, models.LevelWarning, decisions[0].Level)
	assert.True(t, decisions[0].IsNewAlert)
}

func TestEvaluator_MetricsIndependent(t *testing.T) {
	e, _ := newTestEvaluator(t)

	// both breach in one reading
	decisions := e.Evaluate(&models.Reading{Temperature: 36.0, Humidity: 85.0, MeasuredAt: time.Now()})
	require.Len(t, decisions, 2)

	// temperature clears, humidity stays active
	decisions = e.Evaluate(&models.Reading{Temperature: 30.0, Humidity: 85.0, MeasuredAt: time.Now()})
	require.Len(t, decisions, 1)
	assert.Equal(t, models.MetricHumidity, decisions[0].Metric)

	temp, humid := e.States()
	assert.False(t, temp.Active)
	assert.True(t, humid.Active)
}

func TestEvaluator_NormalBelowThresholdNoOp(t *testing.T) {
	e, _ := newTestEvaluator(t)

	decisions := e.Evaluate(&models.Reading{Temperature: 25.0, Humidity: 50.0, MeasuredAt: time.Now()})
	assert.Empty(t, decisions)

	temp, humid := e.States()
	assert.False(t, temp.Active)
	assert.False(t, humid.Active)
}
