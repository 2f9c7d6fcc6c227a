package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/auth"
	"github.com/sakif/codeguides/internal/identity"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

// DefaultSignupTTL is how long staged signup data waits for confirmation.
const DefaultSignupTTL = 15 * time.Minute

// SignupService reconciles the identity provider's accounts with our
// profiles.
//
// SIGNUP IS SPLIT IN TWO:
// The identity provider only captures email + password. The richer profile
// fields (name, profession, bio) are parked in a TempSignup row until the
// email is confirmed, so an unverified address never reaches the users table.
//
//	RequestSignup → TempSignup row + provider.SignUp (link emailed)
//	Confirm       → provider.VerifyOTP → existing profile? → else create it from the TempSignup
//	Login         → profile must exist → provider.SignInWithPassword
//	SweepExpired  → delete TempSignup rows past expires_at (run by the sweeper)
type SignupService struct {
	users  repository.UserRepository
	temps  repository.TempSignupRepository
	idp    identity.Provider
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewSignupService(
	users repository.UserRepository,
	temps repository.TempSignupRepository,
	idp identity.Provider,
	ttl time.Duration,
	logger *slog.Logger,
) *SignupService {
	if ttl <= 0 {
		ttl = DefaultSignupTTL
	}
	return &SignupService{
		users:  users,
		temps:  temps,
		idp:    idp,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SignupRequest is what the signup form collects.
type SignupRequest struct {
	Email          string
	Password       string
	Name           string
	Profession     []string
	Bio            *string
	ProfilePicture *string
}

// RequestSignup stages the profile data and asks the identity provider to
// email a confirmation link. It returns the id of the staged row.
//
// There is no rollback if the provider call fails after the row is stored:
// the row simply expires and the sweeper removes it.
func (s *SignupService) RequestSignup(ctx context.Context, req SignupRequest) (string, error) {
	email, msgs := validateCredentials(req.Email, req.Password, auth.MinPasswordLength)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		msgs = append(msgs, "Name is required")
	}
	if len(msgs) > 0 {
		return "", apperror.Validation(msgs...)
	}

	// A finished signup logs in instead. An account without a profile (its
	// staged data expired before the link was followed) may sign up again.
	switch _, err := s.users.GetByEmail(ctx, email); {
	case err == nil:
		return "", apperror.EmailTaken(nil)
	case !errors.Is(err, apperror.ErrNotFound):
		return "", fmt.Errorf("looking up profile: %w", err)
	}

	temp := &model.TempSignup{
		Email: email,
		ExtraData: model.ExtraData{
			Name:           name,
			Profession:     cleanList(req.Profession),
			Bio:            trimmedOrNil(req.Bio),
			ProfilePicture: trimmedOrNil(req.ProfilePicture),
		},
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.temps.Create(ctx, temp); err != nil {
		s.logger.Error("failed to store temp signup", slog.String("error", err.Error()))
		return "", apperror.Upstream("store temporary data", err)
	}

	if err := s.idp.SignUp(ctx, email, req.Password); err != nil {
		if errors.Is(err, identity.ErrAlreadyRegistered) {
			s.logger.Warn("provider refused signup for a registered email", slog.String("tempID", temp.ID))
			return "", apperror.EmailTaken(err)
		}
		s.logger.Error("failed to send magic link",
			slog.String("tempID", temp.ID),
			slog.String("error", err.Error()),
		)
		return "", apperror.Upstream("send magic link", err)
	}

	s.logger.Info("signup staged",
		slog.String("tempID", temp.ID),
		slog.Time("expiresAt", temp.ExpiresAt),
	)
	return temp.ID, nil
}

// ConfirmOutcome says which way a successful confirmation went.
type ConfirmOutcome int

const (
	// ExistingLogin: the account already had a profile; the link just logs in.
	ExistingLogin ConfirmOutcome = iota + 1
	// NewAccountCreated: the profile was created from the staged data.
	NewAccountCreated
)

func (o ConfirmOutcome) String() string {
	switch o {
	case ExistingLogin:
		return "existing"
	case NewAccountCreated:
		return "new"
	}
	return "unknown"
}

// ConfirmResult carries the session opened by the link.
type ConfirmResult struct {
	Outcome     ConfirmOutcome
	AccessToken string
	ExpiresAt   time.Time
	User        *model.User
}

// Confirm verifies a magic link and materialises the profile on first use.
//
// Errors:
//   - apperror.ErrInvalidLink       the provider rejected the token
//   - apperror.ErrSignupDataMissing no live TempSignup for the verified email
//
// Confirming twice is safe: the second call finds the profile and returns
// ExistingLogin instead of creating a duplicate.
func (s *SignupService) Confirm(ctx context.Context, tokenHash, linkType string) (*ConfirmResult, error) {
	session, err := s.idp.VerifyOTP(ctx, tokenHash, linkType)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidLink) {
			return nil, apperror.InvalidLink()
		}
		s.logger.Error("failed to verify magic link", slog.String("error", err.Error()))
		return nil, apperror.Upstream("verify magic link", err)
	}

	account := session.Account
	result := &ConfirmResult{AccessToken: session.AccessToken, ExpiresAt: session.ExpiresAt}

	existing, err := s.users.GetByID(ctx, account.ID)
	switch {
	case err == nil:
		result.Outcome = ExistingLogin
		result.User = existing
		return result, nil
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("looking up profile %s: %w", account.ID, err)
	}

	temp, err := s.temps.GetLiveByEmail(ctx, account.Email, s.now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("confirmed email has no staged signup data", slog.String("accountID", account.ID))
			return nil, apperror.SignupDataMissing(account.Email)
		}
		return nil, fmt.Errorf("loading temp signup: %w", err)
	}

	user := &model.User{
		ID:             account.ID,
		Email:          account.Email,
		Name:           temp.ExtraData.Name,
		Profession:     temp.ExtraData.Profession,
		Bio:            temp.ExtraData.Bio,
		ProfilePicture: temp.ExtraData.ProfilePicture,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Upstream("create user profile", err)
		}
		// A concurrent confirmation of the same link won the race.
		existing, getErr := s.users.GetByID(ctx, account.ID)
		if getErr != nil {
			return nil, apperror.Upstream("create user profile", err)
		}
		result.Outcome = ExistingLogin
		result.User = existing
		return result, nil
	}

	// Best effort: a leftover row is harmless and the sweeper removes it later.
	if _, err := s.temps.DeleteByEmail(ctx, account.Email); err != nil {
		s.logger.Warn("failed to clean up temp signup data",
			slog.String("accountID", account.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("user profile created", slog.String("userID", user.ID))
	result.Outcome = NewAccountCreated
	result.User = user
	return result, nil
}

// Login exchanges credentials for a session. The profile is checked first,
// so an email that never finished signup gets apperror.ErrUserNotFound
// without the provider being asked.
func (s *SignupService) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	email, msgs := validateCredentials(email, password, 1)
	if len(msgs) > 0 {
		return nil, apperror.Validation(msgs...)
	}

	if _, err := s.users.GetByEmail(ctx, email); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.UserNotFound()
		}
		return nil, fmt.Errorf("looking up profile: %w", err)
	}

	session, err := s.idp.SignInWithPassword(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			return nil, apperror.Unauthenticated("Invalid login credentials")
		case errors.Is(err, identity.ErrEmailNotConfirmed):
			return nil, apperror.Forbidden("Email not confirmed")
		}
		s.logger.Error("login failed upstream", slog.String("error", err.Error()))
		return nil, apperror.Upstream("login", err)
	}
	return session, nil
}

// Profile returns the profile of an authenticated account.
func (s *SignupService) Profile(ctx context.Context, accountID string) (*model.User, error) {
	if accountID == "" {
		return nil, apperror.Unauthenticated("User not authenticated")
	}
	return s.users.GetByID(ctx, accountID)
}

// SweepExpired deletes every TempSignup past its expiry and reports how many.
func (s *SignupService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.temps.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweeping temp signups: %w", err)
	}
	return n, nil
}

// validateCredentials normalises email and checks both fields, returning
// every problem at once.
func validateCredentials(email, password string, minPassword int) (string, []string) {
	var msgs []string

	email = strings.ToLower(strings.TrimSpace(email))
	if !validEmail(email) {
		msgs = append(msgs, "Invalid email")
	}
	if len(password) < minPassword {
		if minPassword <= 1 {
			msgs = append(msgs, "Password is required")
		} else {
			msgs = append(msgs, fmt.Sprintf("Password must be at least %d characters", minPassword))
		}
	}
	return email, msgs
}

// validEmail accepts a bare addr-spec whose domain has a dot.
// "Ada <ada@example.com>" parses as an address but is not a bare one.
func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	domain := email[strings.LastIndex(email, "@")+1:]
	return strings.Contains(domain, ".")
}

// cleanList trims entries, drops empties and duplicates, and keeps order.
func cleanList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
