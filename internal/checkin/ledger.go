package checkin

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Ledger persists admission records.
type Ledger interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	FindByDay(ctx context.Context, identityID int64, dayKey string) (*Record, error)
	ListByIdentity(ctx context.Context, identityID int64) ([]Record, error)
	SetDeparture(ctx context.Context, recordID int64, at time.Time) error
}

// AttemptLog persists verification attempts.
type AttemptLog interface {
	Insert(ctx context.Context, att Attempt) (Attempt, error)
	ListByIdentity(ctx context.Context, identityID int64) ([]Attempt, error)
}

// PostgresLedger stores records and attempts in Postgres. The
// UNIQUE (identity_id, day_key) index turns a concurrent same-day insert
// into ErrConflict.
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger creates a ledger.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Insert writes a new admission record.
func (l *PostgresLedger) Insert(ctx context.Context, rec Record) (Record, error) {
	row := l.db.QueryRowContext(ctx, `
		INSERT INTO checkins (identity_id, arrived_at, day_key, matched)
		VALUES ($1,$2,$3,$4)
		RETURNING id
	`, rec.IdentityID, rec.ArrivedAt, rec.DayKey, rec.Matched)
	if err := row.Scan(&rec.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrConflict
		}
		return Record{}, err
	}
	return rec, nil
}

// FindByDay returns the record for the given identity and day, or nil.
func (l *PostgresLedger) FindByDay(ctx context.Context, identityID int64, dayKey string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, identity_id, arrived_at, day_key, departed_at, matched
		FROM checkins WHERE identity_id = $1 AND day_key = $2
	`, identityID, dayKey)
	var rec Record
	if err := row.Scan(&rec.ID, &rec.IdentityID, &rec.ArrivedAt, &rec.DayKey, &rec.DepartedAt, &rec.Matched); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// ListByIdentity returns the identity's records ordered by arrival.
func (l *PostgresLedger) ListByIdentity(ctx context.Context, identityID int64) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, identity_id, arrived_at, day_key, departed_at, matched
		FROM checkins WHERE identity_id = $1
		ORDER BY arrived_at
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.IdentityID, &rec.ArrivedAt, &rec.DayKey, &rec.DepartedAt, &rec.Matched); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// SetDeparture sets the write-once departure timestamp.
func (l *PostgresLedger) SetDeparture(ctx context.Context, recordID int64, at time.Time) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE checkins SET departed_at = $2
		WHERE id = $1 AND departed_at IS NULL
	`, recordID, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing record from one already departed.
		var exists bool
		if err := l.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM checkins WHERE id = $1)`, recordID,
		).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrDeparted
		}
		return ErrNotFound
	}
	return nil
}

// InsertAttempt writes a verification attempt.
func (l *PostgresLedger) InsertAttempt(ctx context.Context, att Attempt) (Attempt, error) {
	row := l.db.QueryRowContext(ctx, `
		INSERT INTO verification_attempts (identity_id, image_key, matched, error_note)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at
	`, att.IdentityID, att.ImageKey, att.Matched, att.ErrorNote)
	if err := row.Scan(&att.ID, &att.CreatedAt); err != nil {
		return Attempt{}, err
	}
	return att, nil
}

// ListAttempts returns the identity's attempts ordered by timestamp.
func (l *PostgresLedger) ListAttempts(ctx context.Context, identityID int64) ([]Attempt, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, identity_id, image_key, matched, error_note, created_at
		FROM verification_attempts WHERE identity_id = $1
		ORDER BY created_at
	`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Attempt
	for rows.Next() {
		var att Attempt
		if err := rows.Scan(&att.ID, &att.IdentityID, &att.ImageKey, &att.Matched, &att.ErrorNote, &att.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, att)
	}
	return res, rows.Err()
}

// Attempts adapts the ledger to the AttemptLog interface.
type attemptLogAdapter struct{ l *PostgresLedger }

// Attempts returns the attempt log backed by the same database.
func (l *PostgresLedger) Attempts() AttemptLog { return attemptLogAdapter{l} }

func (a attemptLogAdapter) Insert(ctx context.Context, att Attempt) (Attempt, error) {
	return a.l.InsertAttempt(ctx, att)
}

func (a attemptLogAdapter) ListByIdentity(ctx context.Context, identityID int64) ([]Attempt, error) {
	return a.l.ListAttempts(ctx, identityID)
}
