package model

import "time"

// ExtraData holds the profile fields collected on the signup form.
// They are parked in a TempSignup until the email address is confirmed.
type ExtraData struct {
	Name           string   `json:"name"`
	Profession     []string `json:"profession,omitempty"`
	Bio            *string  `json:"bio,omitempty"`
	ProfilePicture *string  `json:"profilePicture,omitempty"`
}

// TempSignup is a short-lived staging row keyed by lowercased email.
//
// LIFECYCLE:
//
//	created   → on POST /api/auth/signup, ExpiresAt = now + signup TTL
//	read once → during magic-link confirmation
//	deleted   → after the profile is created, or by the sweep once expired
//
// An expired row is treated as absent by every read even before the sweep
// removes it.
type TempSignup struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	ExtraData ExtraData `json:"extra_data"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the row is past its expiry at the given instant.
func (t *TempSignup) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
