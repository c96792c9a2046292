package services

import (
	"time"

	"go.uber.org/zap"

	"atmos/models"
)

// ReadingAppender is the persistence side of the pipeline, satisfied by
// SensorStore. Append must not block on I/O.
type ReadingAppender interface {
	Append(r *models.Reading) error
	SessionStart(at time.Time) time.Time
}

// LiveBroadcaster is the raw-reading fanout, satisfied by Hub.
type LiveBroadcaster interface {
	BroadcastLive(r *models.Reading)
}

// LatestCache receives the most recent accepted reading for the polling
// clients. Optional; a nil cache is skipped.
type LatestCache interface {
	SetLatest(r *models.Reading)
}

// Pipeline orchestrates decode → persist → accumulate → evaluate → dispatch
// for every inbound transport message. Stages after decode are fail-soft:
// no failure in one stage suppresses the others, and nothing propagates back
// into the transport client loop.
type Pipeline struct {
	decoder    *Decoder
	store      ReadingAppender
	stats      *StatsAccumulator
	evaluator  *AlertEvaluator
	dispatcher *Dispatcher
	live       LiveBroadcaster
	cache      LatestCache
	watchdog   *Watchdog
	logger     *zap.Logger
}

func NewPipeline(
	decoder *Decoder,
	store ReadingAppender,
	stats *StatsAccumulator,
	evaluator *AlertEvaluator,
	dispatcher *Dispatcher,
	live LiveBroadcaster,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		decoder:    decoder,
		store:      store,
		stats:      stats,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		live:       live,
		logger:     logger,
	}
}

// WithCache attaches the optional latest-reading cache.
func (p *Pipeline) WithCache(cache LatestCache) *Pipeline {
	p.cache = cache
	return p
}

// WithWatchdog attaches the optional telemetry watchdog.
func (p *Pipeline) WithWatchdog(w *Watchdog) *Pipeline {
	p.watchdog = w
	return p
}

// Process runs one inbound transport message through every stage. It never
// panics and never returns an error: the transport loop must stay alive no
// matter what a payload contains.
func (p *Pipeline) Process(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Recovered from pipeline panic", zap.Any("panic", r))
		}
	}()

	// 1. decode: the only stage allowed to stop the message
	reading, err := p.decoder.Decode(payload)
	if err != nil {
		p.logger.Warn("Dropping undecodable payload",
			zap.Error(err),
			zap.ByteString("payload", payload))
		return
	}

	if p.watchdog != nil {
		p.watchdog.Touch(reading.MeasuredAt)
	}

	// 2. persist async; a storage outage must not suppress live alerting
	if err := p.store.Append(reading); err != nil {
		p.logger.Error("Failed to persist reading, continuing without durability",
			zap.Error(err))
	}

	// 3. session rollover + statistics
	p.rolloverIfNeeded(reading.MeasuredAt)
	p.stats.Update(reading)

	// 4./5. evaluate both metrics and dispatch breaching decisions
	for _, decision := range p.evaluator.Evaluate(reading) {
		d := decision
		p.dispatcher.Dispatch(&d)
	}

	// 6. live fanout of the raw reading, independent of alert outcomes
	p.live.BroadcastLive(reading)

	if p.cache != nil {
		p.cache.SetLatest(reading)
	}
}

// rolloverIfNeeded resets the statistics window when a reading crosses the
// session boundary (local midnight).
func (p *Pipeline) rolloverIfNeeded(at time.Time) {
	sessionStart := p.store.SessionStart(at)
	if sessionStart.After(p.stats.WindowStart()) {
		p.logger.Info("Session window rolled over",
			zap.Time("window_start", sessionStart))
		p.stats.Reset(sessionStart)
	}
}
