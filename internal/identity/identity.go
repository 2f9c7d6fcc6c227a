// Package identity abstracts the account store that owns credentials,
// magic links and session tokens.
//
// The rest of the backend never sees a password hash or a link token. It
// asks a Provider to start a signup, to verify a link, to log someone in
// and to tell it who a bearer token belongs to. Two providers exist:
//
//   - local  → accounts and links in our own database, sessions as HS256 JWTs
//   - gotrue → a hosted GoTrue-compatible auth API (Supabase Auth and friends)
package identity

import (
	"context"
	"errors"
	"time"
)

// Link types accepted by VerifyOTP.
const (
	LinkTypeSignup    = "signup"
	LinkTypeMagicLink = "magiclink"
	LinkTypeEmail     = "email"
)

var (
	ErrInvalidCredentials = errors.New("identity: invalid login credentials")
	ErrInvalidLink        = errors.New("identity: invalid or expired link")
	ErrInvalidToken       = errors.New("identity: invalid or expired token")
	ErrAlreadyRegistered  = errors.New("identity: email already registered")
	ErrEmailNotConfirmed  = errors.New("identity: email not confirmed")
)

// Account is the provider's view of a user: a stable id and an email.
// The id doubles as the primary key of the user's profile.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is what a successful link verification or login yields.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
	Account     Account
}

// Provider is the account store the signup flow talks to.
type Provider interface {
	// SignUp registers email/password and dispatches a confirmation link.
	SignUp(ctx context.Context, email, password string) error
	// VerifyOTP consumes a link's token hash and opens a session.
	VerifyOTP(ctx context.Context, tokenHash, linkType string) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// GetUser resolves an access token to its account.
	GetUser(ctx context.Context, accessToken string) (*Account, error)
}

// ValidLinkType reports whether t is a link type VerifyOTP understands.
// An empty type is treated as a signup link.
func ValidLinkType(t string) bool {
	switch t {
	case "", LinkTypeSignup, LinkTypeMagicLink, LinkTypeEmail:
		return true
	}
	return false
}
