package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Watchdog monitors the telemetry feed itself: when no reading arrives
// within the timeout it raises a staleness notice (device offline, broker
// partition), and a recovery notice once data resumes.
type Watchdog struct {
	timeout time.Duration
	logger  *zap.Logger
	notify  func(message string)
	now     func() time.Time

	mu       sync.Mutex
	lastSeen time.Time
	stale    bool
}

// NewWatchdog creates a watchdog. notify may be nil; notices are always
// logged regardless.
func NewWatchdog(timeout time.Duration, notify func(string), logger *zap.Logger) *Watchdog {
	return &Watchdog{
		timeout: timeout,
		logger:  logger,
		notify:  notify,
		now:     time.Now,
	}
}

// Touch records that a reading arrived. Called by the pipeline for every
// accepted reading.
func (w *Watchdog) Touch(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if at.After(w.lastSeen) {
		w.lastSeen = at
	}
	if w.stale {
		w.stale = false
		w.logger.Info("Telemetry feed recovered",
			zap.Time("measured_at", at))
		w.sendNotice(fmt.Sprintf("Telemetry feed recovered at %s", at.Format(time.RFC3339)))
	}
}

// Run checks the feed periodically until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.timeout / 4
	if interval < time.Second {
		interval = time.Second
	}

	w.mu.Lock()
	if w.lastSeen.IsZero() {
		// a feed that never produces data should also alert
		w.lastSeen = w.now()
	}
	w.mu.Unlock()

	w.logger.Info("Starting telemetry watchdog", zap.Duration("timeout", w.timeout))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Telemetry watchdog stopped")
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	w.mu.Lock()
	defer w.mu.Unlock()

	silence := w.now().Sub(w.lastSeen)
	if !w.stale && silence >= w.timeout {
		w.stale = true
		w.logger.Warn("Telemetry feed stale",
			zap.Duration("silence", silence),
			zap.Duration("timeout", w.timeout))
		w.sendNotice(fmt.Sprintf("No sensor readings received for %s", silence.Round(time.Second)))
	}
}

// Stale reports whether the feed is currently considered dead.
func (w *Watchdog) Stale() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stale
}

func (w *Watchdog) sendNotice(message string) {
	if w.notify == nil {
		return
	}
	// notices go out from under the lock on purpose: callbacks may be slow
	go w.notify(message)
}
