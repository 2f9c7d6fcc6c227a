// Package repository declares the storage interfaces the service layer
// depends on. The sqldb package implements all of them.
package repository

import (
	"context"
	"time"

	"github.com/sakif/codeguides/internal/model"
)

// UserRepository stores confirmed profiles.
type UserRepository interface {
	// Create inserts u using the id already set on it.
	// A second profile for the same id or email is an apperror.ErrConflict.
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context, filter model.UserFilter) ([]model.User, error)
}

// TempSignupRepository stores staged signup data.
type TempSignupRepository interface {
	Create(ctx context.Context, t *model.TempSignup) error
	// GetLiveByEmail returns the newest row for email that has not expired at now.
	GetLiveByEmail(ctx context.Context, email string, now time.Time) (*model.TempSignup, error)
	// DeleteByEmail removes every row for email, live or expired.
	DeleteByEmail(ctx context.Context, email string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// GuideRepository stores guides together with their tags and steps.
//
// Every method that touches more than one table runs in a single
// transaction: a guide is never visible without the steps it was written
// with, and never leaves orphaned steps behind.
type GuideRepository interface {
	CreateWithSteps(ctx context.Context, g *model.Guide, steps []model.StepInput) (*model.GuideAggregate, error)
	GetByID(ctx context.Context, id string) (*model.GuideAggregate, error)
	List(ctx context.Context, filter model.GuideFilter) ([]model.GuideAggregate, error)
	ListByAuthor(ctx context.Context, authorID string) ([]model.GuideAggregate, error)
	// UpdateWithSteps writes every column of g. A nil steps keeps the current
	// steps; a non-nil steps replaces them entirely.
	UpdateWithSteps(ctx context.Context, g *model.Guide, steps *[]model.StepInput) (*model.GuideAggregate, error)
	DeleteWithSteps(ctx context.Context, id string) error
}

// StepRepository stores single steps.
type StepRepository interface {
	// ListByGuide returns steps sorted by step_number ascending.
	ListByGuide(ctx context.Context, guideID string) ([]model.Step, error)
	GetByID(ctx context.Context, id string) (*model.Step, error)
	Create(ctx context.Context, s *model.Step) error
	Update(ctx context.Context, s *model.Step) error
	Delete(ctx context.Context, id string) error
}

// AuthRepository backs the built-in identity provider.
type AuthRepository interface {
	CreateAccount(ctx context.Context, a *model.AuthAccount) error
	GetAccountByID(ctx context.Context, id string) (*model.AuthAccount, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.AuthAccount, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	ConfirmAccount(ctx context.Context, id string, at time.Time) error
	CreateLink(ctx context.Context, l *model.AuthLink) error
	// ConsumeLink marks an unused, unexpired link as used and returns it.
	// Any other link is apperror.ErrNotFound. A link can be consumed once.
	ConsumeLink(ctx context.Context, tokenHash, linkType string, now time.Time) (*model.AuthLink, error)
	DeleteExpiredLinks(ctx context.Context, now time.Time) (int64, error)
}
