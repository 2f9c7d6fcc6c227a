package handler

// RESPONSE HELPERS:
// Every response goes through the respond package, so the API has one shape:
//
//	{"success": true,  "message": "...", "data": ...}
//	{"success": false, "message": "...", "error": "..."}
//
// The frontend only ever checks "success" and then reads "data" or "error",
// regardless of whether it got a 200, 404 or 500.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/respond"
)

// errorWriter turns service errors into envelopes. Every handler embeds one.
type errorWriter struct {
	logger *slog.Logger
	// dev exposes raw messages of unexpected errors. Never set in production:
	// a raw error can contain SQL, file paths or upstream responses.
	dev bool
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
// This is where domain errors (from the service layer) get translated to HTTP.
// The service layer returns apperror.ErrValidation, apperror.ErrNotFound, etc.
// This function maps those to 400, 404, etc. The service never sees a status code.
//
// failMsg is the operation's message ("Failed to create guide"). Validation
// failures always say "Validation failed" and list the problems in "error".
//
// errors.Is() walks the whole chain, so a service may wrap an AppError with
// fmt.Errorf("...: %w", err) and the mapping still finds the sentinel.
func (ew errorWriter) writeError(w http.ResponseWriter, r *http.Request, err error, failMsg string) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		message := failMsg

		switch {
		case errors.Is(err, apperror.ErrValidation):
			status = http.StatusBadRequest
			message = "Validation failed"
		case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrUserNotFound):
			status = http.StatusNotFound
		case errors.Is(err, apperror.ErrUnauthenticated):
			status = http.StatusUnauthorized
		case errors.Is(err, apperror.ErrForbidden):
			status = http.StatusForbidden
		case errors.Is(err, apperror.ErrConflict):
			status = http.StatusConflict
		}

		if status == http.StatusInternalServerError {
			ew.logger.ErrorContext(r.Context(), failMsg, slog.String("error", err.Error()))
			respond.Fail(w, status, message, ew.internalDetail(err))
			return
		}
		respond.Fail(w, status, message, appErr.Message)
		return
	}

	// Unknown error: log everything, tell the client almost nothing.
	ew.logger.ErrorContext(r.Context(), failMsg,
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	respond.Fail(w, http.StatusInternalServerError, failMsg, ew.internalDetail(err))
}

func (ew errorWriter) internalDetail(err error) string {
	if ew.dev {
		return err.Error()
	}
	return "Something went wrong"
}

// decodeJSON reads the request body into v.
//
// The body size cap is applied by middleware.BodyLimit; here we only turn
// its error into a readable message.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperror.ValidationFailed("body", fmt.Sprintf("Request body must be %d bytes or less", tooBig.Limit))
		}
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}
	return nil
}
