// Package middleware contains HTTP middleware functions.
//
// WHAT IS MIDDLEWARE?
// Middleware is a function that wraps an HTTP handler to add cross-cutting behaviour
// (logging, metrics, CORS, etc.) without modifying the handler itself.
//
// The pattern is:
//
//	func MyMiddleware(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // Do something BEFORE the handler runs
//	        next.ServeHTTP(w, r)  // Call the actual handler
//	        // Do something AFTER the handler runs
//	    })
//	}
//
// This is the "decorator pattern": we wrap the real handler with extra behaviour.
// Auth and rate limiting live in their own packages (auth, ratelimit) because
// they carry domain state; everything here is stateless plumbing.
package middleware

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Logger returns an HTTP middleware that logs each request using Go's slog package.
//
// Each log line includes: method, path, status code, duration, bytes written
// and the request id set by chi's RequestID middleware, which must run first.
//
// chimiddleware.NewWrapResponseWriter captures the status code and byte count.
// Go's http.ResponseWriter doesn't expose the status code after WriteHeader
// is called, so the wrapper tracks it for us.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK // WriteHeader was never called
			}

			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelError
			}
			logger.LogAttrs(r.Context(), level, "request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("requestID", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}

// sensitiveKeys never reach the log output, whatever logs them.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"access_token":  true,
	"token_hash":    true,
	"authorization": true,
}

// jwtPattern matches three dot-separated base64url segments, the shape of
// a JWT. The first segment of every JWT starts with "eyJ" ({"...).
var jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)

// Redact is a slog.HandlerOptions.ReplaceAttr hook. It blanks attributes
// named after credentials and masks anything that looks like a JWT inside
// other string values (a URL with ?access_token=..., an upstream error).
func Redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); jwtPattern.MatchString(s) {
			return slog.String(a.Key, jwtPattern.ReplaceAllString(s, "[REDACTED]"))
		}
	}
	return a
}
