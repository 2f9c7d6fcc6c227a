package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

var _ repository.TempSignupRepository = (*TempSignupStore)(nil)

// TempSignupStore persists staged signup data in temp_signups.
type TempSignupStore struct {
	db *DB
}

// Create stores a staging row. The id is a random UUID: it is handed back
// to the client as tempId, so it must not be guessable from a timestamp.
func (s *TempSignupStore) Create(ctx context.Context, t *model.TempSignup) error {
	t.ID = uuid.NewString()
	t.Email = strings.ToLower(strings.TrimSpace(t.Email))
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.CreatedAt = timestamp(t.CreatedAt)
	t.ExpiresAt = timestamp(t.ExpiresAt)

	extra, err := json.Marshal(t.ExtraData)
	if err != nil {
		return fmt.Errorf("sqldb: encoding extra_data: %w", err)
	}

	_, err = s.db.exec(ctx,
		`INSERT INTO temp_signups (id, email, extra_data, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Email, string(extra), t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqldb: creating temp signup: %w", err)
	}
	return nil
}

// GetLiveByEmail returns the most recently created row for email that has
// not expired at now. Older duplicates from repeated signups are ignored.
func (s *TempSignupStore) GetLiveByEmail(ctx context.Context, email string, now time.Time) (*model.TempSignup, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var (
		t     model.TempSignup
		extra string
	)
	err := s.db.queryRow(ctx,
		`SELECT id, email, extra_data, expires_at, created_at
		 FROM temp_signups
		 WHERE email = ? AND expires_at > ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		email, timestamp(now),
	).Scan(&t.ID, &t.Email, &extra, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("temp signup", email)
		}
		return nil, fmt.Errorf("sqldb: getting temp signup: %w", err)
	}

	if err := json.Unmarshal([]byte(extra), &t.ExtraData); err != nil {
		return nil, fmt.Errorf("sqldb: decoding extra_data: %w", err)
	}
	return &t, nil
}

func (s *TempSignupStore) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := s.db.exec(ctx, `DELETE FROM temp_signups WHERE email = ?`, email)
	if err != nil {
		return 0, fmt.Errorf("sqldb: deleting temp signups: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes every row whose expires_at is at or before now.
func (s *TempSignupStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.exec(ctx, `DELETE FROM temp_signups WHERE expires_at <= ?`, timestamp(now))
	if err != nil {
		return 0, fmt.Errorf("sqldb: deleting expired temp signups: %w", err)
	}
	return res.RowsAffected()
}
