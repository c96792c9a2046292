package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"atmos/models"
)

func setupCache(t *testing.T) (*miniredis.Miniredis, *ReadingCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewReadingCache(mr.Addr(), "", zap.NewNop())
	t.Cleanup(func() { cache.Close() })
	return mr, cache
}

func TestCache_RoundTrip(t *testing.T) {
	_, cache := setupCache(t)

	want := &models.Reading{
		ID:          7,
		Temperature: 27.5,
		Humidity:    61.0,
		MeasuredAt:  time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
	}
	cache.SetLatest(want)

	got := cache.GetLatest(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Temperature, got.Temperature)
	assert.True(t, want.MeasuredAt.Equal(got.MeasuredAt))
}

func TestCache_MissReturnsNil(t *testing.T) {
	_, cache := setupCache(t)

	assert.Nil(t, cache.GetLatest(context.Background()))
}

func TestCache_CorruptEntryDiscarded(t *testing.T) {
	mr, cache := setupCache(t)

	require.NoError(t, mr.Set(latestReadingKey, "not json"))
	assert.Nil(t, cache.GetLatest(context.Background()))
}

func TestCache_OutageIsFailSoft(t *testing.T) {
	mr, cache := setupCache(t)
	mr.Close()

	// neither call may panic or block past its timeout
	cache.SetLatest(&models.Reading{Temperature: 27.5, Humidity: 61.0, MeasuredAt: time.Now()})
	assert.Nil(t, cache.GetLatest(context.Background()))
}
