package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"atmos/models"
)

// Notifier delivers an alert through an external channel (email, Telegram,
// webhook). Implementations must honor the context deadline.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *models.AlertEvent) error
}

// AlertBroadcaster is the live-push side of a dispatch, satisfied by Hub.
type AlertBroadcaster interface {
	BroadcastAlert(event *models.AlertEvent)
}

// notifierTimeout bounds one outbound send so a hung connection cannot
// stall the cooldown-gated alert path.
const notifierTimeout = 10 * time.Second

// Dispatcher fans alert decisions out to live subscribers (always,
// unthrottled) and to the external notifiers (cooldown-gated, via a single
// worker so the pipeline never blocks on a slow transport). Failures are
// logged and isolated; none propagates into the pipeline.
type Dispatcher struct {
	broadcaster AlertBroadcaster
	evaluator   *AlertEvaluator
	notifiers   []Notifier
	logger      *zap.Logger
	now         func() time.Time
	timeout     time.Duration

	queue chan notifyJob

	mu       sync.Mutex
	inFlight map[models.Metric]bool
}

type notifyJob struct {
	metric models.Metric
	event  *models.AlertEvent
}

func NewDispatcher(broadcaster AlertBroadcaster, evaluator *AlertEvaluator, notifiers []Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		broadcaster: broadcaster,
		evaluator:   evaluator,
		notifiers:   notifiers,
		logger:      logger,
		now:         time.Now,
		timeout:     notifierTimeout,
		queue:       make(chan notifyJob, 64),
		inFlight:    make(map[models.Metric]bool),
	}
}

// Start launches the outbound send worker.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.worker(ctx)
}

// Dispatch pushes one alert decision to all consumers. It never blocks on
// I/O and never returns an error.
func (d *Dispatcher) Dispatch(decision *models.AlertDecision) {
	event := buildAlertEvent(decision)

	// real-time fanout first: no cooldown, no dependency on the notifiers
	d.broadcaster.BroadcastAlert(event)

	if !decision.NotifyNow || len(d.notifiers) == 0 {
		return
	}

	d.mu.Lock()
	if d.inFlight[decision.Metric] {
		d.mu.Unlock()
		d.logger.Debug("Notification already in flight, skipping",
			zap.String("metric", string(decision.Metric)))
		return
	}
	d.inFlight[decision.Metric] = true
	d.mu.Unlock()

	select {
	case d.queue <- notifyJob{metric: decision.Metric, event: event}:
	default:
		d.clearInFlight(decision.Metric)
		d.logger.Warn("Notification queue full, dropping send",
			zap.String("metric", string(decision.Metric)))
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Notification worker stopped")
			return
		case job := <-d.queue:
			d.send(ctx, job)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, job notifyJob) {
	defer d.clearInFlight(job.metric)

	sent := false
	for _, notifier := range d.notifiers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := notifier.Notify(sendCtx, job.event)
		cancel()

		if err != nil {
			d.logger.Error("Notification send failed",
				zap.String("notifier", notifier.Name()),
				zap.String("metric", string(job.metric)),
				zap.Error(err))
			continue
		}
		sent = true
		d.logger.Info("Notification sent",
			zap.String("notifier", notifier.Name()),
			zap.String("metric", string(job.metric)),
			zap.String("level", string(job.event.Level)))
	}

	// cooldown advances only on success; a failed send retries naturally on
	// the next qualifying reading
	if sent {
		d.evaluator.RecordNotification(job.metric, d.now())
	}
}

func (d *Dispatcher) clearInFlight(metric models.Metric) {
	d.mu.Lock()
	delete(d.inFlight, metric)
	d.mu.Unlock()
}

func buildAlertEvent(decision *models.AlertDecision) *models.AlertEvent {
	unit := "%"
	label := "Humidity"
	if decision.Metric == models.MetricTemperature {
		unit = "°C"
		label = "Temperature"
	}

	return &models.AlertEvent{
		Type:      decision.Metric,
		Value:     decision.Value,
		Threshold: decision.Threshold,
		Level:     decision.Level,
		Message: fmt.Sprintf("%s %.1f%s exceeded threshold %.1f%s",
			label, decision.Value, unit, decision.Threshold, unit),
		Timestamp:   decision.Reading.MeasuredAt.Format(time.RFC3339),
		Temperature: decision.Reading.Temperature,
		Humidity:    decision.Reading.Humidity,
	}
}
