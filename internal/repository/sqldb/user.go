package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/codeguides/internal/apperror"
	"github.com/sakif/codeguides/internal/model"
	"github.com/sakif/codeguides/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *UserStore stops satisfying repository.UserRepository the build fails here,
// not somewhere far away where the store is passed to a service.
var _ repository.UserRepository = (*UserStore)(nil)

// UserStore persists confirmed profiles in the users table.
type UserStore struct {
	db *DB
}

const userColumns = `id, email, name, profession, bio, profile_picture, created_at, updated_at`

// Create inserts a profile. The caller supplies the id (the identity
// provider's account id); Create only stamps the timestamps.
//
// profession is a small list that is always read and written whole, so it is
// stored as a JSON array in a TEXT column rather than in its own table.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		return fmt.Errorf("sqldb: creating user: id is required")
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	now := timestamp(time.Now())
	u.CreatedAt = now
	u.UpdatedAt = now

	profession, err := json.Marshal(nonNil(u.Profession))
	if err != nil {
		return fmt.Errorf("sqldb: encoding profession: %w", err)
	}

	_, err = s.db.exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.Email,
		u.Name,
		string(profession),
		nullString(u.Bio),
		nullString(u.ProfilePicture),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", u.ID)
		}
		return fmt.Errorf("sqldb: creating user: %w", err)
	}
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqldb: getting user %s: %w", id, err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := s.db.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqldb: getting user by email: %w", err)
	}
	return u, nil
}

// List returns profiles filtered by a case-insensitive name substring,
// ordered by creation time (newest first unless filter.Order is asc).
func (s *UserStore) List(ctx context.Context, filter model.UserFilter) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any

	if search := strings.TrimSpace(filter.Search); search != "" {
		query += ` WHERE LOWER(name) LIKE ? ESCAPE '\'`
		args = append(args, likePattern(search))
	}

	if filter.Order == model.OrderAsc {
		query += ` ORDER BY created_at ASC, id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id DESC`
	}

	rows, err := s.db.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating users: %w", err)
	}
	return users, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(sc scanner) (*model.User, error) {
	var (
		u          model.User
		profession string
		bio        sql.NullString
		picture    sql.NullString
	)
	if err := sc.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&profession,
		&bio,
		&picture,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(profession), &u.Profession); err != nil {
		return nil, fmt.Errorf("decoding profession: %w", err)
	}
	u.Profession = nonNil(u.Profession)
	u.Bio = stringPtr(bio)
	u.ProfilePicture = stringPtr(picture)
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
