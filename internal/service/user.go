package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

// UserService serves the public profile directory.
type UserService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

// List returns profiles whose name contains filter.Search, newest first
// unless filter.Order is asc.
func (s *UserService) List(ctx context.Context, filter model.UserFilter) ([]model.User, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.Order != model.OrderAsc {
		filter.Order = model.OrderDesc
	}

	users, err := s.users.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list users", slog.String("error", err.Error()))
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperror.ValidationFailed("id", "user ID is required")
	}
	return s.users.GetByID(ctx, id)
}
