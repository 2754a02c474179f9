package checkin

import (
	"errors"
	"time"
)

// Record is one admission event. At most one record exists per
// (identity, calendar day); DayKey carries the truncated date so the
// storage layer can enforce that with a plain unique constraint.
type Record struct {
	ID         int64      `json:"id"`
	IdentityID int64      `json:"identity_id"`
	ArrivedAt  time.Time  `json:"arrived_at"`
	DayKey     string     `json:"day_key"`
	DepartedAt *time.Time `json:"departed_at,omitempty"`
	Matched    bool       `json:"matched"`
}

// Attempt is one logged face-match evaluation. Attempts are written
// whenever the verifier runs, success or not, and are never read back to
// make admission decisions.
type Attempt struct {
	ID         int64     `json:"id"`
	IdentityID int64     `json:"identity_id"`
	ImageKey   string    `json:"image_key"`
	Matched    bool      `json:"matched"`
	ErrorNote  *string   `json:"error_note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	// ErrConflict reports a lost uniqueness race on insert. The
	// coordinator translates it to a duplicate-today rejection; it never
	// reaches callers.
	ErrConflict = errors.New("checkin conflict")
	// ErrNotFound reports a missing ledger record.
	ErrNotFound = errors.New("checkin not found")
	// ErrDeparted reports a second attempt to set the write-once
	// departure timestamp.
	ErrDeparted = errors.New("departure already set")
)

// DayKey truncates t to its calendar date. Both the duplicate-check read
// path and the insert path must go through this one helper so "same day"
// means the same thing everywhere. The server's local zone applies.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
