package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

var _ repository.AuthRepository = (*AuthStore)(nil)

// AuthStore holds accounts and one-time links for the built-in identity provider.
type AuthStore struct {
	db *DB
}

const accountColumns = `id, email, password_hash, confirmed_at, created_at, updated_at`

func (s *AuthStore) CreateAccount(ctx context.Context, a *model.AuthAccount) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	now := timestamp(time.Now())
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.exec(ctx,
		`INSERT INTO auth_accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.PasswordHash, nullTime(a.ConfirmedAt), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", a.Email)
		}
		return fmt.Errorf("sqldb: creating account: %w", err)
	}
	return nil
}

func (s *AuthStore) GetAccountByID(ctx context.Context, id string) (*model.AuthAccount, error) {
	row := s.db.queryRow(ctx, `SELECT `+accountColumns+` FROM auth_accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", id)
		}
		return nil, fmt.Errorf("sqldb: getting account %s: %w", id, err)
	}
	return a, nil
}

func (s *AuthStore) GetAccountByEmail(ctx context.Context, email string) (*model.AuthAccount, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.queryRow(ctx, `SELECT `+accountColumns+` FROM auth_accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", email)
		}
		return nil, fmt.Errorf("sqldb: getting account by email: %w", err)
	}
	return a, nil
}

func (s *AuthStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return s.updateAccount(ctx, id,
		`UPDATE auth_accounts SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, timestamp(time.Now()), id,
	)
}

// ConfirmAccount stamps confirmed_at. Re-confirming keeps the first timestamp.
func (s *AuthStore) ConfirmAccount(ctx context.Context, id string, at time.Time) error {
	return s.updateAccount(ctx, id,
		`UPDATE auth_accounts SET confirmed_at = COALESCE(confirmed_at, ?), updated_at = ? WHERE id = ?`,
		timestamp(at), timestamp(time.Now()), id,
	)
}

func (s *AuthStore) updateAccount(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqldb: updating account %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("account", id)
	}
	return nil
}

func (s *AuthStore) CreateLink(ctx context.Context, l *model.AuthLink) error {
	l.CreatedAt = timestamp(time.Now())
	l.ExpiresAt = timestamp(l.ExpiresAt)

	_, err := s.db.exec(ctx,
		`INSERT INTO auth_links (token_hash, account_id, type, password_hash, expires_at, used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.TokenHash, l.AccountID, l.Type, l.PasswordHash, l.ExpiresAt, nullTime(l.UsedAt), l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqldb: creating link: %w", err)
	}
	return nil
}

// ConsumeLink flips used_at in a single conditional UPDATE, so two requests
// racing on the same link cannot both succeed.
func (s *AuthStore) ConsumeLink(ctx context.Context, tokenHash, linkType string, now time.Time) (*model.AuthLink, error) {
	now = timestamp(now)

	var link *model.AuthLink
	err := s.db.withTx(ctx, func(r runner) error {
		res, err := r.exec(ctx,
			`UPDATE auth_links SET used_at = ?
			 WHERE token_hash = ? AND type = ? AND used_at IS NULL AND expires_at > ?`,
			now, tokenHash, linkType, now,
		)
		if err != nil {
			return fmt.Errorf("consuming link: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return apperror.NotFound("link", "")
		}

		var (
			l      model.AuthLink
			usedAt sql.NullTime
		)
		if err := r.queryRow(ctx,
			`SELECT token_hash, account_id, type, password_hash, expires_at, used_at, created_at
			 FROM auth_links WHERE token_hash = ?`,
			tokenHash,
		).Scan(&l.TokenHash, &l.AccountID, &l.Type, &l.PasswordHash, &l.ExpiresAt, &usedAt, &l.CreatedAt); err != nil {
			return fmt.Errorf("reading link: %w", err)
		}
		l.UsedAt = timePtr(usedAt)
		link = &l
		return nil
	})
	if err != nil {
		return nil, wrapErr("consuming link", err)
	}
	return link, nil
}

// DeleteExpiredLinks removes links past expiry, used or not.
func (s *AuthStore) DeleteExpiredLinks(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.exec(ctx, `DELETE FROM auth_links WHERE expires_at <= ?`, timestamp(now))
	if err != nil {
		return 0, fmt.Errorf("sqldb: deleting expired links: %w", err)
	}
	return res.RowsAffected()
}

func scanAccount(sc scanner) (*model.AuthAccount, error) {
	var (
		a           model.AuthAccount
		confirmedAt sql.NullTime
	)
	if err := sc.Scan(&a.ID, &a.Email, &a.PasswordHash, &confirmedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ConfirmedAt = timePtr(confirmedAt)
	return &a, nil
}
