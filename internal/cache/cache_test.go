package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_PutGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryCache_MissingKey(t *testing.T) {
	c := NewMemoryCache()
	_, ok := c.Get(context.Background(), "nope")
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	_, ok := c.Get(ctx, "k")
	require.True(t, ok)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	// Deleting a missing key is not an error.
	assert.NoError(t, c.Delete(ctx, "k"))
}

func TestMemoryCache_PurgeExpired(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "fresh", []byte("v"), time.Hour))
	require.NoError(t, c.Put(ctx, "stale1", []byte("v"), time.Minute))
	require.NoError(t, c.Put(ctx, "stale2", []byte("v"), time.Minute))

	c.now = func() time.Time { return now.Add(30 * time.Minute) }
	purged, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	_, ok := c.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestMemoryCache_DefensiveCopies(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	payload := []byte("original")
	require.NoError(t, c.Put(ctx, "k", payload, time.Minute))
	payload[0] = 'X'

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("original"), got)

	got[0] = 'Y'
	again, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("original"), again)
}

func TestLibSQLCache_RoundTrip(t *testing.T) {
	c, err := NewLibSQLCache("file:" + t.TempDir() + "/cache.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte(`{"a":1}`), time.Minute))
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), got)

	// Upsert replaces.
	require.NoError(t, c.Put(ctx, "k", []byte(`{"a":2}`), time.Minute))
	got, ok = c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":2}`), got)
}

func TestLibSQLCache_ExpiredEntryIsMiss(t *testing.T) {
	c, err := NewLibSQLCache("file:" + t.TempDir() + "/cache.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", []byte("v"), -time.Minute))
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestLibSQLCache_PurgeExpired(t *testing.T) {
	c, err := NewLibSQLCache("file:" + t.TempDir() + "/cache.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "fresh", []byte("v"), time.Hour))
	require.NoError(t, c.Put(ctx, "stale", []byte("v"), -time.Minute))

	purged, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, ok := c.Get(ctx, "fresh")
	assert.True(t, ok)
}

func TestLibSQLCache_SurvivesReopen(t *testing.T) {
	path := "file:" + t.TempDir() + "/cache.db"
	ctx := context.Background()

	c1, err := NewLibSQLCache(path)
	require.NoError(t, err)
	require.NoError(t, c1.Put(ctx, "k", []byte("durable"), time.Hour))
	require.NoError(t, c1.Close())

	c2, err := NewLibSQLCache(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c2.Close() })
	got, ok := c2.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("durable"), got)
}
