package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Migrate applies the schema. The UNIQUE index on (identity_id, day_key)
// is the enforcement point for the one-check-in-per-day rule; application
// level checks are a fast path only.
func (d *DB) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS institutions (
		id          BIGSERIAL PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS identities (
		id              BIGSERIAL PRIMARY KEY,
		kind            TEXT NOT NULL,
		name            TEXT NOT NULL,
		email           TEXT NOT NULL UNIQUE,
		national_id     TEXT UNIQUE,
		image_key       TEXT,
		credential_key  TEXT,
		is_student      BOOLEAN NOT NULL DEFAULT FALSE,
		is_instructor   BOOLEAN NOT NULL DEFAULT FALSE,
		institution_id  BIGINT REFERENCES institutions(id),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS checkins (
		id           BIGSERIAL PRIMARY KEY,
		identity_id  BIGINT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		arrived_at   TIMESTAMPTZ NOT NULL,
		day_key      TEXT NOT NULL,
		departed_at  TIMESTAMPTZ,
		matched      BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (identity_id, day_key)
	);

	CREATE TABLE IF NOT EXISTS verification_attempts (
		id           BIGSERIAL PRIMARY KEY,
		identity_id  BIGINT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
		image_key    TEXT NOT NULL,
		matched      BOOLEAN NOT NULL DEFAULT FALSE,
		error_note   TEXT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_checkins_identity ON checkins(identity_id, arrived_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_identity ON verification_attempts(identity_id, created_at);
	`
	_, err := d.Client.ExecContext(ctx, schema)
	return err
}
