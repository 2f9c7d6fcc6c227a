package model

import "time"

// AuthAccount is a login account owned by the built-in identity provider.
// It is separate from User: an account exists from signup onward, a User
// profile only after the email has been confirmed.
type AuthAccount struct {
	ID           string
	Email        string
	PasswordHash string
	ConfirmedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (a *AuthAccount) Confirmed() bool {
	return a.ConfirmedAt != nil
}

// AuthLink is a one-time magic link. Only the SHA-256 of the token is stored.
//
// PasswordHash is set when a confirmed account signs up again: the new
// password only takes effect once the link is followed.
type AuthLink struct {
	TokenHash    string
	AccountID    string
	Type         string // "signup" | "magiclink"
	PasswordHash string
	ExpiresAt    time.Time
	UsedAt       *time.Time
	CreatedAt    time.Time
}
