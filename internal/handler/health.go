// Package handler contains the HTTP request handlers of the API.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements the http.Handler interface:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Or more commonly, we use http.HandlerFunc, a function with the right signature
// that automatically satisfies the Handler interface. Chi's router accepts these directly.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (query params, body, path values)
// 2. Call the service layer
// 3. Write the response envelope (status code, headers, body)
//
// Handlers should NOT contain business logic; they are the "glue" between HTTP and your app.
// Each handler depends on a small interface (SignupService, GuideService, ...)
// rather than the concrete service, so tests can hand it a fake.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/codeguides/internal/respond"
)

// Pinger is anything whose health can be checked, e.g. the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers load balancer probes.
type HealthHandler struct {
	env    string
	db     Pinger
	logger *slog.Logger
	now    func() time.Time
}

func NewHealthHandler(env string, db Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{env: env, db: db, logger: logger, now: time.Now}
}

type healthResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}

// HandleHealth reports whether the server can reach its database.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Success:     true,
		Message:     "Server is running",
		Timestamp:   h.now().UTC().Format(time.RFC3339Nano),
		Environment: h.env,
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.ErrorContext(r.Context(), "health check failed", slog.String("error", err.Error()))
			resp.Success = false
			resp.Message = "Database unreachable"
			respond.JSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respond.JSON(w, http.StatusOK, resp)
}
