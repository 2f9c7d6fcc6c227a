// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// User is a confirmed profile.
//
// The ID is NOT generated here. It is the account id issued by the identity
// provider when the magic link was verified, so a profile and its login
// account always share one id. A user row is only ever written once, during
// the first successful confirmation.
//
// WHY POINTERS FOR Bio AND ProfilePicture?
// Both are optional. A nil pointer marshals to JSON null, which lets the
// frontend tell "never set" apart from an empty string.
type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"` // always lowercased
	Name           string    `json:"name"`
	Profession     []string  `json:"profession"`
	Bio            *string   `json:"bio"`
	ProfilePicture *string   `json:"profile_picture"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AuthorSummary is the slice of a User embedded in every guide aggregate.
type AuthorSummary struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	ProfilePicture *string `json:"profile_picture"`
}

// UserFilter narrows GET /api/users. Search is a case-insensitive
// substring match on the name.
type UserFilter struct {
	Search string
	Order  SortOrder
}
