// Package auth: password hashing utilities.
//
// WHY BCRYPT?
// bcrypt is deliberately slow, which makes brute-force attacks expensive.
// It generates and embeds a random salt, so two accounts with the same
// password get different hashes and no separate salt column is needed.
//
// Hash format (the full output of bcrypt.GenerateFromPassword):
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (12 rounds → 2^12 = 4096 iterations)
//	 version
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used in production.
const defaultCost = 12

// MinPasswordLength is the shortest password signup accepts.
const MinPasswordLength = 6

var (
	ErrPasswordMismatch = errors.New("auth: invalid password")
	ErrPasswordTooLong  = errors.New("auth: password must be 72 bytes or fewer")
)

// PasswordService provides bcrypt hashing and verification.
//
// It's a struct (not free functions) so the cost can be injected in tests:
// cost 4 makes hashing take microseconds instead of ~250ms.
type PasswordService struct {
	cost int
	// dummy is a real hash of a throwaway password, compared against when
	// the account does not exist so that lookup misses cost the same time
	// as wrong passwords.
	dummy []byte
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return newPasswordServiceWithCost(defaultCost)
}

// NewPasswordServiceForTest creates a PasswordService with a custom
// (low) cost. Do NOT use in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return newPasswordServiceWithCost(cost)
}

func newPasswordServiceWithCost(cost int) *PasswordService {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("codeguides-dummy-password"), cost)
	return &PasswordService{cost: cost, dummy: dummy}
}

// Hash hashes the given plaintext password with bcrypt.
//
// bcrypt silently truncates input past 72 bytes, so longer passwords are
// rejected with ErrPasswordTooLong instead.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
// It returns ErrPasswordMismatch for a wrong password.
//
// TIMING SAFETY:
// bcrypt.CompareHashAndPassword compares in constant time, so response
// time does not reveal how much of the password was right.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyDummy burns the same bcrypt time as Verify. Call it when the account
// being logged into does not exist. It always returns ErrPasswordMismatch.
func (p *PasswordService) VerifyDummy(plaintext string) error {
	_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(plaintext))
	return ErrPasswordMismatch
}
