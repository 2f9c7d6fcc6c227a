package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeguides/internal/auth"
	"github.com/sakif/codeguides/internal/identity"
	"github.com/sakif/codeguides/internal/respond"
)

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory(limit int, window time.Duration) (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemory(limit, window)
	m.now = clock.now
	return m, clock
}

// =========================================================================
// MEMORY LIMITER TESTS
// =========================================================================

func TestMemory_BurstThenRefill(t *testing.T) {
	m, clock := newTestMemory(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := m.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}
	ok, _ := m.Allow(ctx, "a")
	assert.False(t, ok, "third request within the window should be limited")

	// Other keys have their own bucket.
	ok, _ = m.Allow(ctx, "b")
	assert.True(t, ok)

	// 2/min refills one token every 30s.
	clock.advance(31 * time.Second)
	ok, _ = m.Allow(ctx, "a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_EvictsIdleKeys(t *testing.T) {
	m, clock := newTestMemory(5, time.Minute)
	ctx := context.Background()

	m.Allow(ctx, "a")
	m.Allow(ctx, "b")
	assert.Equal(t, 2, m.Len())

	clock.advance(3 * time.Minute)
	m.Allow(ctx, "c")
	assert.Equal(t, 1, m.Len())
}

// =========================================================================
// MIDDLEWARE TESTS
// =========================================================================

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

var ok200 = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMiddleware_Limited(t *testing.T) {
	tests := []struct {
		name    string
		key     KeyFunc
		account *identity.Account
		want    string
	}{
		{name: "by ip", key: ByIP, want: "Too many requests from this IP, please try again later."},
		{
			name:    "by account",
			key:     ByAccount,
			account: &identity.Account{ID: "acc-1"},
			want:    "Too many requests from this account, please try again later.",
		},
		{name: "by account, anonymous", key: ByAccount, want: "Too many requests from this IP, please try again later."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := &stubLimiter{allow: false}
			h := Middleware(limiter, tt.key, discardLogger())(ok200)

			req := httptest.NewRequest(http.MethodPost, "/api/code-guides/guides", nil)
			if tt.account != nil {
				req = req.WithContext(auth.WithAccount(req.Context(), tt.account))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
			var env respond.Envelope
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
			assert.False(t, env.Success)
			assert.Equal(t, tt.want, env.Message)
			assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error)
		})
	}
}

func TestMiddleware_AllowedAndFailOpen(t *testing.T) {
	for _, l := range []*stubLimiter{
		{allow: true},
		{allow: false, err: errors.New("redis: connection refused")},
	} {
		h := Middleware(l, ByIP, discardLogger())(ok200)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestKeyFuncs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	assert.Equal(t, "ip:203.0.113.7", ByIP(req))
	assert.Equal(t, "ip:203.0.113.7", ByAccount(req))

	req = req.WithContext(auth.WithAccount(req.Context(), &identity.Account{ID: "acc-1"}))
	assert.Equal(t, "account:acc-1", ByAccount(req))

	req.RemoteAddr = "no-port"
	assert.Equal(t, "ip:no-port", ByIP(req))
}

// =========================================================================
// REDIS LIMITER TESTS (need a real server)
// =========================================================================

func TestRedis_FixedWindow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })

	l := NewRedis(client, "test-"+xid.New().String(), 2, time.Minute)
	frozen := time.Now()
	l.now = func() time.Time { return frozen }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Next window starts fresh.
	frozen = frozen.Add(time.Minute)
	ok, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
