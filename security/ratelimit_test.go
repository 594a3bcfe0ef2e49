package security

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRateLimiter(t *testing.T) {
	rl := NewRateLimiter("token", 10, 20, nil)
	defer rl.Stop()

	assert.Equal(t, 20, rl.burst)
	assert.NotNil(t, rl.logger)
	assert.Equal(t, DefaultRateLimiterMaxEntries, rl.maxEntries)
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter("token", 10, 5, slog.Default())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("ip-1"), "request %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow("ip-1"), "request over burst should be limited")
	assert.True(t, rl.Allow("ip-2"), "identifiers have separate buckets")
}

func TestRateLimiter_RefillOverTime(t *testing.T) {
	rl := NewRateLimiter("token", 100, 1, slog.Default())
	defer rl.Stop()

	require.True(t, rl.Allow("id"))
	require.False(t, rl.Allow("id"))

	time.Sleep(30 * time.Millisecond)
	assert.True(t, rl.Allow("id"))
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig("token", 10, 10, 2, slog.Default())
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	rl.Allow("a") // a becomes most recent
	rl.Allow("c") // evicts b

	rl.mu.Lock()
	_, hasA := rl.limiters["a"]
	_, hasB := rl.limiters["b"]
	rl.mu.Unlock()

	assert.True(t, hasA)
	assert.False(t, hasB)
	assert.Equal(t, int64(1), rl.GetStats().TotalEvictions)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter("token", 10, 20, slog.Default())
	defer rl.Stop()

	rl.Allow("id-1")
	rl.Allow("id-2")

	rl.mu.Lock()
	rl.limiters["id-1"].Value.(*rateLimiterEntry).lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.Cleanup(30 * time.Minute)

	stats := rl.GetStats()
	assert.Equal(t, 1, stats.CurrentEntries)
	assert.Equal(t, int64(1), stats.TotalCleanups)
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter("token", 1000, 1000, slog.Default())
	defer rl.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rl.Allow(string(rune('a' + i%5)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, rl.GetStats().CurrentEntries)
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter("token", 1, 1, nil)
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter("token", 1, 1, slog.Default())
	defer rl.Stop()

	handler := rl.Middleware(func(r *http.Request) string { return r.RemoteAddr })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }),
	)

	req := httptest.NewRequest(http.MethodPost, "/token", nil)
	req.RemoteAddr = "10.1.1.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "slow_down", body["error"])
}
