package limits

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olumi/olumi-go/internal/cache"
	"github.com/olumi/olumi-go/pkg/schema"
)

const limitsBody = `{
	"nodes": {"max": 300},
	"edges": {"max": 900},
	"label": {"max": 150},
	"body": {"max": 3000},
	"rate_limit": {"rpm": 120}
}`

func newTestManager(t *testing.T, handler http.HandlerFunc) *Manager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewManager(Config{BaseURL: srv.URL})
}

func TestManager_DefaultsBeforeHydration(t *testing.T) {
	m := NewManager(Config{BaseURL: "http://unused.test"})
	assert.Equal(t, schema.DefaultLimits(), m.Limits())
	assert.False(t, m.Hydrated())
}

func TestManager_HydrateReplacesDefaults(t *testing.T) {
	m := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/limits", r.URL.Path)
		_, _ = io.WriteString(w, limitsBody)
	})

	require.NoError(t, m.Hydrate(context.Background()))
	assert.True(t, m.Hydrated())

	lim := m.Limits()
	assert.Equal(t, 300, lim.MaxNodes)
	assert.Equal(t, 900, lim.MaxEdges)
	assert.Equal(t, 150, lim.MaxLabel)
	assert.Equal(t, 3000, lim.MaxBody)
	assert.Equal(t, 120, lim.RateRPM)
}

func TestManager_FailureRetainsCurrentLimits(t *testing.T) {
	m := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := m.Hydrate(context.Background())
	require.Error(t, err)
	assert.Equal(t, schema.DefaultLimits(), m.Limits())
	assert.False(t, m.Hydrated())
}

func TestManager_InvalidPayloadRetained(t *testing.T) {
	m := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"nodes":{"max":0},"edges":{"max":900},"label":{"max":150},"body":{"max":3000},"rate_limit":{"rpm":120}}`)
	})

	err := m.Hydrate(context.Background())
	require.Error(t, err)
	assert.Equal(t, schema.DefaultLimits(), m.Limits())
}

func TestManager_MalformedPayloadRetained(t *testing.T) {
	m := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>oops</html>")
	})

	require.Error(t, m.Hydrate(context.Background()))
	assert.Equal(t, schema.DefaultLimits(), m.Limits())
}

func TestManager_ConcurrentHydrateCoalesces(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	m := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = io.WriteString(w, limitsBody)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Hydrate(context.Background())
		}()
	}

	// Let the goroutines pile up on the single in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 300, m.Limits().MaxNodes)
}

func TestManager_HydrateAfterSuccessFetchesAgain(t *testing.T) {
	var calls atomic.Int32
	m := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, limitsBody)
	})

	require.NoError(t, m.Hydrate(context.Background()))
	require.NoError(t, m.Hydrate(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_SeedsFromDurableCache(t *testing.T) {
	store := cache.NewMemoryCache()
	cached := schema.Limits{MaxNodes: 42, MaxEdges: 43, MaxLabel: 44, MaxBody: 45, RateRPM: 46}
	payload, _ := json.Marshal(cached)
	require.NoError(t, store.Put(context.Background(), "limits", payload, time.Hour))

	m := NewManager(Config{BaseURL: "http://unused.test", Cache: store})
	assert.Equal(t, cached, m.Limits())
}

func TestManager_CorruptCacheEntryIgnored(t *testing.T) {
	store := cache.NewMemoryCache()
	require.NoError(t, store.Put(context.Background(), "limits", []byte("garbage"), time.Hour))

	m := NewManager(Config{BaseURL: "http://unused.test", Cache: store})
	assert.Equal(t, schema.DefaultLimits(), m.Limits())

	// The corrupt entry is dropped, not left to poison the next start.
	_, ok := store.Get(context.Background(), "limits")
	assert.False(t, ok)
}

func TestManager_ZeroedCacheEntryIgnored(t *testing.T) {
	store := cache.NewMemoryCache()
	payload, _ := json.Marshal(schema.Limits{})
	require.NoError(t, store.Put(context.Background(), "limits", payload, time.Hour))

	m := NewManager(Config{BaseURL: "http://unused.test", Cache: store})
	assert.Equal(t, schema.DefaultLimits(), m.Limits())
}

func TestManager_HydratePersistsToCache(t *testing.T) {
	store := cache.NewMemoryCache()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, limitsBody)
	}))
	t.Cleanup(srv.Close)

	m := NewManager(Config{BaseURL: srv.URL, Cache: store})
	require.NoError(t, m.Hydrate(context.Background()))

	payload, ok := store.Get(context.Background(), "limits")
	require.True(t, ok)
	var lim schema.Limits
	require.NoError(t, json.Unmarshal(payload, &lim))
	assert.Equal(t, 300, lim.MaxNodes)
}

func TestManager_Reset(t *testing.T) {
	store := cache.NewMemoryCache()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, limitsBody)
	}))
	t.Cleanup(srv.Close)

	m := NewManager(Config{BaseURL: srv.URL, Cache: store})
	require.NoError(t, m.Hydrate(context.Background()))
	require.True(t, m.Hydrated())

	m.Reset(context.Background())
	assert.Equal(t, schema.DefaultLimits(), m.Limits())
	assert.False(t, m.Hydrated())
	_, ok := store.Get(context.Background(), "limits")
	assert.False(t, ok)
}
