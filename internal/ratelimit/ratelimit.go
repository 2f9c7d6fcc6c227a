// Package ratelimit throttles requests per client.
//
// Two backends implement Limiter:
//   - Memory: a token bucket per key (golang.org/x/time/rate), for a single instance
//   - Redis:  a fixed window counter shared by every instance behind a load balancer
//
// Middleware turns a Limiter into chi middleware that answers 429 with the
// usual JSON envelope.
package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/sakif/codeguides/internal/auth"
	"github.com/sakif/codeguides/internal/respond"
)

// Limiter decides whether one more request for key is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// KeyFunc picks the bucket a request counts against.
type KeyFunc func(r *http.Request) string

// ByIP keys on the client address. Run chi's RealIP middleware first so
// RemoteAddr reflects X-Forwarded-For behind a proxy.
func ByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// ByAccount keys on the authenticated account and falls back to the IP for
// anonymous requests. It must run after auth.RequireAuth.
func ByAccount(r *http.Request) string {
	if a, ok := auth.AccountFromContext(r.Context()); ok {
		return "account:" + a.ID
	}
	return ByIP(r)
}

// Middleware rejects requests over the limit with 429.
// A failing backend (Redis down) lets the request through and logs.
func Middleware(l Limiter, key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			ok, err := l.Allow(r.Context(), k)
			if err != nil {
				logger.ErrorContext(r.Context(), "rate limiter failed, allowing request",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				respond.Fail(w, http.StatusTooManyRequests, limitMessage(k), "RATE_LIMIT_EXCEEDED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitMessage names what was limited, the address or the account.
func limitMessage(key string) string {
	if strings.HasPrefix(key, "ip:") {
		return "Too many requests from this IP, please try again later."
	}
	return "Too many requests from this account, please try again later."
}
