package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/model"
)

func TestUserService(t *testing.T) {
	repo := newMockUserRepo()
	repo.users["u1"] = &model.User{ID: "u1", Email: "ada@example.com", Name: "Ada"}
	repo.users["u2"] = &model.User{ID: "u2", Email: "grace@example.com", Name: "Grace"}
	svc := NewUserService(repo, quietLogger())
	ctx := context.Background()

	users, err := svc.List(ctx, model.UserFilter{Search: "  ada "})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 1 || users[0].ID != "u1" {
		t.Errorf("List() = %+v", users)
	}

	all, _ := svc.List(ctx, model.UserFilter{Order: model.OrderAsc})
	if len(all) != 2 || all[0].Name != "Ada" {
		t.Errorf("List(asc) = %+v", all)
	}

	if _, err := svc.GetByID(ctx, "u3"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := svc.GetByID(ctx, ""); !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}
