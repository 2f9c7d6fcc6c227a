// Package sqldb implements the repository interfaces on top of database/sql.
//
// TWO DRIVERS, ONE SET OF QUERIES:
// The same SQL text runs against either backend:
//   - "sqlite" → modernc.org/sqlite, an embedded file (or ":memory:" in tests)
//   - "pgx"    → github.com/jackc/pgx/v5/stdlib, a hosted Postgres
//
// Queries are written with SQLite's "?" placeholders. Postgres wants "$1, $2, ..."
// instead, so every query passes through rebind before it reaches the driver.
// Only the schema (see migrate.go) differs per dialect.
//
// DATABASE/SQL OVERVIEW:
//   - sql.DB      → a connection pool (NOT a single connection!)
//   - sql.Tx      → a transaction pinned to one connection
//   - sql.Row     → a single result row
//   - sql.Rows    → multiple result rows (must be closed!)
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	// BLANK IMPORT:
	// Registers the "pgx" driver with database/sql. The sqlite import above
	// registers "sqlite" as a side effect of being imported for its error type.
	_ "github.com/jackc/pgx/v5/stdlib"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// querier is the subset of *sql.DB and *sql.Tx that the stores use.
// Accepting the interface lets the same query code run inside or outside
// a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runner pairs a querier with the dialect so every call is rebound.
type runner struct {
	q       querier
	dialect dialect
}

func (r runner) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, rebind(r.dialect, query), args...)
}

func (r runner) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, rebind(r.dialect, query), args...)
}

func (r runner) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, rebind(r.dialect, query), args...)
}

// DB owns the connection pool and hands out the per-table stores.
type DB struct {
	conn *sql.DB
	runner
}

// New opens the database, applies the schema and returns a ready DB.
//
// driver is "sqlite" or "pgx". For sqlite, dsn is a file path or ":memory:".
// An in-memory database only exists for the connection that created it, so
// the pool is pinned to a single connection in that case.
func New(ctx context.Context, driver, dsn string) (*DB, error) {
	var d dialect
	switch driver {
	case "sqlite":
		d = dialectSQLite
	case "pgx":
		d = dialectPostgres
	default:
		return nil, fmt.Errorf("sqldb: unsupported driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: opening database: %w", err)
	}

	if d == dialectSQLite {
		if strings.Contains(dsn, ":memory:") {
			conn.SetMaxOpenConns(1)
		}
	} else {
		conn.SetMaxOpenConns(20)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqldb: pinging database: %w", err)
	}

	db := &DB{conn: conn, runner: runner{q: conn, dialect: d}}

	if d == dialectSQLite {
		// Foreign keys are OFF by default in SQLite. busy_timeout makes a
		// writer wait for a lock instead of failing immediately.
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA foreign_keys=ON",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("sqldb: %s: %w", pragma, err)
			}
		}
	}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqldb: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /health.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Users() *UserStore             { return &UserStore{db: db} }
func (db *DB) TempSignups() *TempSignupStore { return &TempSignupStore{db: db} }
func (db *DB) Guides() *GuideStore           { return &GuideStore{db: db} }
func (db *DB) Steps() *StepStore             { return &StepStore{db: db} }
func (db *DB) Auth() *AuthStore              { return &AuthStore{db: db} }

// withTx runs fn inside a transaction. fn's error (or a panic) rolls back;
// otherwise the transaction is committed.
func (db *DB) withTx(ctx context.Context, fn func(r runner) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(runner{q: tx, dialect: db.dialect}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for Postgres.
// None of our queries contain a literal "?" so a plain scan is enough.
func rebind(d dialect, query string) string {
	if d != dialectPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ?" for an IN (...) list of n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// isUniqueViolation recognises a UNIQUE/PRIMARY KEY failure from either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// isForeignKeyViolation recognises a foreign key failure from either driver.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

// timestamp returns now in UTC at microsecond precision, which both
// backends store without rounding. Keeping every stored time in UTC also
// keeps SQLite's text timestamps comparable with < and >.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// likePattern builds a case-insensitive substring pattern for LIKE ... ESCAPE '\'.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: timestamp(*t), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
