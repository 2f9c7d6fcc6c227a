package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codeguides/internal/auth"
	"github.com/sakif/codeguides/internal/config"
	"github.com/sakif/codeguides/internal/mailer"
	"github.com/sakif/codeguides/internal/respond"
)

// captureMailer keeps every message instead of sending it.
type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (c *captureMailer) Send(_ context.Context, m mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

// lastLink returns the confirmation URL from the newest message, rewritten
// to a path the test server can serve.
func (c *captureMailer) lastLink(t *testing.T) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.sent, "no email was sent")

	body := c.sent[len(c.sent)-1].Body
	start := strings.Index(body, "http://api.test")
	require.GreaterOrEqual(t, start, 0, "no link in %q", body)
	end := strings.IndexAny(body[start:], "\n ")
	require.Greater(t, end, 0)
	return strings.TrimPrefix(body[start:start+end], "http://api.test")
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	cfg.Identity.JWTSecret = "server-test-secret-32-characters!"
	cfg.App.FrontendURL = "http://front.test"
	cfg.App.PublicURL = "http://api.test"
	cfg.App.CORSOrigin = "http://front.test"
	return cfg
}

func newTestServer(t *testing.T) (*Server, *captureMailer) {
	t.Helper()
	mail := &captureMailer{}
	s, err := New(context.Background(), testConfig(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithMailer(mail),
		WithPasswordService(auth.NewPasswordServiceForTest(4)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mail
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, respond.Envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env respond.Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestNew_RejectsUnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = "oracle"
	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

// TestSignupToGuideFlow walks the whole happy path against a real router:
// signup, confirm link, profile, login, writing a guide, reading it back.
func TestSignupToGuideFlow(t *testing.T) {
	s, mail := newTestServer(t)
	h := s.Handler()

	// === SIGNUP ===
	rec, env := do(t, h, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":      "Ada@Example.com",
		"password":   "secret1",
		"name":       "Ada Lovelace",
		"profession": []string{"Engineer"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	// Not confirmed yet, so there is no profile to log in to.
	rec, _ = do(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// === CONFIRM ===
	rec, _ = do(t, h, http.MethodGet, mail.lastLink(t), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "front.test", loc.Host)
	assert.Equal(t, "success", loc.Query().Get("status"))
	assert.Equal(t, "true", loc.Query().Get("new"))
	token := loc.Query().Get("access_token")
	require.NotEmpty(t, token)

	// === PROFILE ===
	rec, env = do(t, h, http.MethodGet, "/api/auth/user/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	profile := env.Data.(map[string]any)
	assert.Equal(t, "ada@example.com", profile["email"])
	assert.Equal(t, "Ada Lovelace", profile["name"])

	// === LOGIN ===
	rec, env = do(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	token = env.Data.(map[string]any)["access_token"].(string)

	// === WRITE A GUIDE ===
	guide := map[string]any{
		"title":        "Hello in Go",
		"description":  "The smallest program",
		"code_snippet": "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		"steps": []map[string]any{
			{"step_number": 1, "title": "Package", "start_line": 1, "end_line": 1},
			{"step_number": 2, "title": "Main", "start_line": 3, "end_line": 5},
		},
	}
	rec, _ = do(t, h, http.MethodPost, "/api/code-guides/guides", "", guide)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = do(t, h, http.MethodPost, "/api/code-guides/guides", token, guide)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := env.Data.(map[string]any)["id"].(string)

	// === READ IT BACK ===
	rec, env = do(t, h, http.MethodGet, "/api/code-guides/guides/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := env.Data.(map[string]any)
	assert.Equal(t, profile["id"], got["author_id"])
	assert.Len(t, got["steps"], 2)

	rec, env = do(t, h, http.MethodGet, "/api/code-guides/guides/"+id+"/steps", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.Data, 2)

	rec, env = do(t, h, http.MethodGet, "/api/users", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.Data, 1)
}

// TestSignupAfterStagedDataExpired covers an account whose link was followed
// only after its staged data was swept: it has no profile and must be able to
// sign up again and log in with the new password.
func TestSignupAfterStagedDataExpired(t *testing.T) {
	s, mail := newTestServer(t)
	h := s.Handler()
	ctx := context.Background()

	signup := func(password string) *httptest.ResponseRecorder {
		rec, _ := do(t, h, http.MethodPost, "/api/auth/signup", "", map[string]any{
			"email":      "ada@example.com",
			"password":   password,
			"name":       "Ada Lovelace",
			"profession": []string{"Engineer"},
		})
		return rec
	}
	confirm := func() url.Values {
		rec, _ := do(t, h, http.MethodGet, mail.lastLink(t), "", nil)
		require.Equal(t, http.StatusFound, rec.Code)
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		return loc.Query()
	}

	require.Equal(t, http.StatusOK, signup("secret1").Code)
	_, err := s.db.TempSignups().DeleteByEmail(ctx, "ada@example.com")
	require.NoError(t, err)

	// The account is confirmed but the profile data is gone.
	assert.Equal(t, "error", confirm().Get("status"))
	rec, _ := do(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// === SIGN UP AGAIN ===
	rec = signup("secret2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	q := confirm()
	assert.Equal(t, "success", q.Get("status"))
	assert.Equal(t, "true", q.Get("new"))

	rec, env := do(t, h, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "secret2",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, env.Data.(map[string]any)["access_token"])

	// With a profile in place, another signup is a conflict.
	rec = signup("secret3")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRoutes_Misc(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	t.Run("health", func(t *testing.T) {
		rec, _ := do(t, h, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})

	t.Run("unknown route", func(t *testing.T) {
		rec, env := do(t, h, http.MethodGet, "/api/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", env.Error)
	})

	t.Run("me without token", func(t *testing.T) {
		rec, env := do(t, h, http.MethodGet, "/api/auth/user/me", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "MISSING_TOKEN", env.Error)
	})

	t.Run("bad confirm link redirects with error", func(t *testing.T) {
		rec, _ := do(t, h, http.MethodGet, "/api/auth/confirm?token_hash=bogus&type=signup", "", nil)
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "status=error")
	})

	t.Run("metrics", func(t *testing.T) {
		require.NoError(t, s.Sweep(context.Background()))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, `codeguides_http_requests_total{method="GET",route="/health",status="200"} 1`)
		assert.Contains(t, body, "codeguides_sweep")
	})
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.Auth = config.Rate{Limit: 2, Window: time.Minute}
	s, err := New(context.Background(), cfg,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithMailer(&captureMailer{}),
		WithPasswordService(auth.NewPasswordServiceForTest(4)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	creds := map[string]string{"email": "nobody@example.com", "password": "secret1"}
	for i := 0; i < 2; i++ {
		rec, _ := do(t, s.Handler(), http.MethodPost, "/api/auth/login", "", creds)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec, _ := do(t, s.Handler(), http.MethodPost, "/api/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
