package services

import (
	"sync"
	"time"

	"atmos/models"
)

// StatsAccumulator maintains running min/max/sum/count per metric for the
// current session window. Updates are O(1) and order-independent; the full
// history rebuild is used at startup and after a store recovery.
type StatsAccumulator struct {
	mu          sync.Mutex
	windowStart time.Time
	temp        metricAgg
	humid       metricAgg
}

type metricAgg struct {
	min   float64
	max   float64
	sum   float64
	count int64
}

func (a *metricAgg) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.count++
}

func (a *metricAgg) stats() models.MetricStats {
	s := models.MetricStats{Min: a.min, Max: a.max, Count: a.count}
	if a.count > 0 {
		s.Avg = a.sum / float64(a.count)
	}
	return s
}

func NewStatsAccumulator(windowStart time.Time) *StatsAccumulator {
	return &StatsAccumulator{windowStart: windowStart}
}

// Reset clears all counters and starts a new session window.
func (s *StatsAccumulator) Reset(windowStart time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windowStart = windowStart
	s.temp = metricAgg{}
	s.humid = metricAgg{}
}

// RecomputeFromHistory rebuilds the counters from a full sequence of
// readings restricted to the current window. The window start is unchanged.
func (s *StatsAccumulator) RecomputeFromHistory(readings []models.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = metricAgg{}
	s.humid = metricAgg{}
	for i := range readings {
		s.temp.add(readings[i].Temperature)
		s.humid.add(readings[i].Humidity)
	}
}

// Update folds one accepted reading into the counters. Must be called
// exactly once per reading; double counting corrupts the average.
func (s *StatsAccumulator) Update(r *models.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp.add(r.Temperature)
	s.humid.add(r.Humidity)
}

// Snapshot returns a read-only copy of the current statistics.
func (s *StatsAccumulator) Snapshot() models.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.StatsSnapshot{
		Temperature: s.temp.stats(),
		Humidity:    s.humid.stats(),
		WindowStart: s.windowStart,
	}
}

// WindowStart returns the start of the current session window.
func (s *StatsAccumulator) WindowStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowStart
}
