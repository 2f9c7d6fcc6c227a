package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/respond"
)

type UserService interface {
	List(ctx context.Context, filter model.UserFilter) ([]model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// UserHandler serves the public profile directory.
type UserHandler struct {
	errorWriter
	users UserService
}

func NewUserHandler(users UserService, dev bool, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		errorWriter: errorWriter{logger: logger, dev: dev},
		users:       users,
	}
}

// HandleList returns profiles whose name contains ?search, sorted by
// creation time (?sortBy=asc|desc, newest first by default).
//
// HTTP: GET /api/users
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, err := h.users.List(r.Context(), model.UserFilter{
		Search: q.Get("search"),
		Order:  model.ParseSortOrder(q.Get("sortBy")),
	})
	if err != nil {
		h.writeError(w, r, err, "Failed to fetch users")
		return
	}
	respond.OK(w, http.StatusOK, "", users)
}

// HTTP: GET /api/users/{id}
func (h *UserHandler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err, "user not found")
		return
	}
	respond.OK(w, http.StatusOK, "", user)
}
