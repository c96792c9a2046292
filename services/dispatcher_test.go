package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atmos/models"
)

type fakeBroadcaster struct {
	mu     sync.Mutex
	alerts []*models.AlertEvent
}

func (f *fakeBroadcaster) BroadcastAlert(event *models.AlertEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, event)
}

func (f *fakeBroadcaster) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeNotifier) Name() string { return "fake" }

func (f *fakeNotifier) Notify(_ context.Context, _ *models.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeNotifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func tempDecision(notifyNow bool) *models.AlertDecision {
	return &models.AlertDecision{
		Metric:     models.MetricTemperature,
		Level:      models.LevelWarning,
		Value:      36.0,
		Threshold:  35.0,
		IsNewAlert: true,
		NotifyNow:  notifyNow,
		Reading: models.Reading{
			Temperature: 36.0,
			Humidity:    50.0,
			MeasuredAt:  time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestDispatcher_FanoutAlwaysHappens(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	evaluator := NewAlertEvaluator(testAlertConfig(), zap.NewNop())
	d := NewDispatcher(broadcaster, evaluator, nil, zap.NewNop())

	// notifyNow false and no notifiers: fanout still delivered
	d.Dispatch(tempDecision(false))

	require.Equal(t, 1, broadcaster.count())
	event := broadcaster.alerts[0]
	assert.Equal(t, models.MetricTemperature, event.Type)
	assert.Equal(t, "Temperature 36.0°C exceeded threshold 35.0°C", event.Message)
	assert.Equal(t, "2026-08-28T12:00:00Z", event.Timestamp)
}

func TestDispatcher_SuccessfulSendAdvancesCooldown(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	evaluator := NewAlertEvaluator(testAlertConfig(), zap.NewNop())
	notifier := &fakeNotifier{}
	d := NewDispatcher(broadcaster, evaluator, []Notifier{notifier}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	// put the metric into Active so RecordNotification sticks
	evaluator.Evaluate(&models.Reading{Temperature: 36.0, Humidity: 50.0, MeasuredAt: time.Now()})

	d.Dispatch(tempDecision(true))

	require.Eventually(t, func() bool {
		temp, _ := evaluator.States()
		return temp.LastNotifiedAt != nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, notifier.callCount())
}

func TestDispatcher_FailedSendDoesNotAdvanceCooldown(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	evaluator := NewAlertEvaluator(testAlertConfig(), zap.NewNop())
	notifier := &fakeNotifier{err: errors.New("smtp unavailable")}
	d := NewDispatcher(broadcaster, evaluator, []Notifier{notifier}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	evaluator.Evaluate(&models.Reading{Temperature: 36.0, Humidity: 50.0, MeasuredAt: time.Now()})
	d.Dispatch(tempDecision(true))

	require.Eventually(t, func() bool {
		return notifier.callCount() == 1
	}, time.Second, 10*time.Millisecond)

	temp, _ := evaluator.States()
	assert.Nil(t, temp.LastNotifiedAt, "cooldown must not advance on a failed send")
	assert.Equal(t, 1, broadcaster.count(), "fanout unaffected by notifier failure")
}

func TestDispatcher_NotifyNowFalseSkipsNotifiers(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	evaluator := NewAlertEvaluator(testAlertConfig(), zap.NewNop())
	notifier := &fakeNotifier{}
	d := NewDispatcher(broadcaster, evaluator, []Notifier{notifier}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.Dispatch(tempDecision(false))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, notifier.callCount())
	assert.Equal(t, 1, broadcaster.count())
}

func TestBuildAlertEvent_Humidity(t *testing.T) {
	event := buildAlertEvent(&models.AlertDecision{
		Metric:    models.MetricHumidity,
		Level:     models.LevelWarning,
		Value:     85.0,
		Threshold: 80.0,
		Reading: models.Reading{
			Temperature: 25.0,
			Humidity:    85.0,
			MeasuredAt:  time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
		},
	})

	assert.Equal(t, "Humidity 85.0% exceeded threshold 80.0%", event.Message)
	assert.Equal(t, 25.0, event.Temperature)
	assert.Equal(t, 85.0, event.Humidity)
}
