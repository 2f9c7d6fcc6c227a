package sqldb

import (
	"context"
	"fmt"
	"strings"
)

// The schema is written once with {{TIME}} standing in for the timestamp
// column type. SQLite gets DATETIME (which modernc.org/sqlite scans back
// into time.Time); Postgres gets TIMESTAMPTZ.
//
// CREATE ... IF NOT EXISTS keeps every statement idempotent, so migrate runs
// on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		email           TEXT NOT NULL UNIQUE,
		name            TEXT NOT NULL,
		profession      TEXT NOT NULL DEFAULT '[]',
		bio             TEXT,
		profile_picture TEXT,
		created_at      {{TIME}} NOT NULL,
		updated_at      {{TIME}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at)`,

	// No uniqueness on email: a user may sign up again before confirming.
	`CREATE TABLE IF NOT EXISTS temp_signups (
		id         TEXT PRIMARY KEY,
		email      TEXT NOT NULL,
		extra_data TEXT NOT NULL,
		expires_at {{TIME}} NOT NULL,
		created_at {{TIME}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_temp_signups_email_expires ON temp_signups(email, expires_at)`,
	`CREATE INDEX IF NOT EXISTS idx_temp_signups_expires ON temp_signups(expires_at)`,

	`CREATE TABLE IF NOT EXISTS guides (
		id            TEXT PRIMARY KEY,
		title         TEXT NOT NULL,
		description   TEXT NOT NULL,
		author_id     TEXT NOT NULL REFERENCES users(id),
		code_snippet  TEXT NOT NULL DEFAULT '',
		code_language TEXT NOT NULL DEFAULT '',
		category      TEXT NOT NULL DEFAULT '',
		created_at    {{TIME}} NOT NULL,
		updated_at    {{TIME}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guides_created_at ON guides(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_guides_author_id ON guides(author_id)`,
	`CREATE INDEX IF NOT EXISTS idx_guides_category ON guides(category)`,
	`CREATE INDEX IF NOT EXISTS idx_guides_code_language ON guides(code_language)`,

	`CREATE TABLE IF NOT EXISTS guide_tags (
		guide_id TEXT NOT NULL REFERENCES guides(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		tag      TEXT NOT NULL,
		PRIMARY KEY (guide_id, position)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guide_tags_tag ON guide_tags(tag)`,

	// No ON DELETE CASCADE: the guide store deletes steps explicitly, inside
	// the same transaction, before it deletes the guide.
	`CREATE TABLE IF NOT EXISTS steps (
		id          TEXT PRIMARY KEY,
		guide_id    TEXT NOT NULL REFERENCES guides(id),
		step_number INTEGER NOT NULL,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		start_line  INTEGER NOT NULL,
		end_line    INTEGER NOT NULL,
		created_at  {{TIME}} NOT NULL,
		CHECK (start_line >= 0 AND end_line >= start_line)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_steps_guide_number ON steps(guide_id, step_number)`,

	// Built-in identity provider. Unused when IDENTITY_PROVIDER=gotrue.
	`CREATE TABLE IF NOT EXISTS auth_accounts (
		id            TEXT PRIMARY KEY,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		confirmed_at  {{TIME}},
		created_at    {{TIME}} NOT NULL,
		updated_at    {{TIME}} NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS auth_links (
		token_hash    TEXT PRIMARY KEY,
		account_id    TEXT NOT NULL REFERENCES auth_accounts(id) ON DELETE CASCADE,
		type          TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		expires_at    {{TIME}} NOT NULL,
		used_at       {{TIME}},
		created_at    {{TIME}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_auth_links_expires ON auth_links(expires_at)`,
}

// migrate applies the schema one statement at a time. Postgres's extended
// protocol rejects several statements in one Exec.
func (db *DB) migrate(ctx context.Context) error {
	timeType := "DATETIME"
	if db.dialect == dialectPostgres {
		timeType = "TIMESTAMPTZ"
	}

	for i, stmt := range schema {
		stmt = strings.ReplaceAll(stmt, "{{TIME}}", timeType)
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return nil
}
