package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olumi/olumi-go/internal/cache"
)

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(Config{Cache: cache.NewMemoryCache()})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestScheduler_DoubleStartFails(t *testing.T) {
	s := NewScheduler(Config{Cache: cache.NewMemoryCache()})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := NewScheduler(Config{})
	assert.NoError(t, s.Stop())
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	s := NewScheduler(Config{Cache: cache.NewMemoryCache()})
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestScheduler_InvalidScheduleRejectedAtStart(t *testing.T) {
	s := NewScheduler(Config{RefreshSchedule: "not a cron"})
	assert.Error(t, s.Start(context.Background()))

	s = NewScheduler(Config{PurgeSchedule: "* * *"})
	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_Due(t *testing.T) {
	s := NewScheduler(Config{})

	// An every-minute schedule fires within any >1min window.
	last := time.Date(2026, 8, 30, 12, 0, 30, 0, time.UTC)
	assert.True(t, s.due("* * * * *", last, last.Add(90*time.Second)))

	// A 30-second window that does not cross a minute boundary does not fire.
	assert.False(t, s.due("* * * * *", last, last.Add(20*time.Second)))

	// Hourly fires only when the window crosses the top of the hour.
	assert.False(t, s.due("0 * * * *", last, last.Add(time.Minute)))
	assert.True(t, s.due("0 * * * *", last, last.Add(time.Hour)))
}

func TestScheduler_JobDedup(t *testing.T) {
	s := NewScheduler(Config{})

	require.True(t, s.tryAcquire("limits_refresh"))
	assert.False(t, s.tryAcquire("limits_refresh"))
	assert.True(t, s.tryAcquire("cache_purge"))

	s.release("limits_refresh")
	assert.True(t, s.tryAcquire("limits_refresh"))
}

func TestScheduler_PurgeCache(t *testing.T) {
	store := cache.NewMemoryCache()
	require.NoError(t, store.Put(context.Background(), "stale", []byte("v"), -time.Minute))

	s := NewScheduler(Config{Cache: store})
	require.NoError(t, s.purgeCache(context.Background()))
	_, ok := store.Get(context.Background(), "stale")
	assert.False(t, ok)
}
