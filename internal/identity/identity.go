package identity

import (
	"errors"
	"time"
)

// Kind tags the two enrollment variants. Full identities carry role and
// institution fields; quick identities are the reduced walk-up variant.
// Both live in one table and share one email / national-ID uniqueness
// domain, so a duplicate check is a single lookup.
type Kind string

const (
	KindFull  Kind = "full"
	KindQuick Kind = "quick"
)

// Valid reports whether k is a known variant.
func (k Kind) Valid() bool { return k == KindFull || k == KindQuick }

// Identity is an enrolled person eligible to check in.
type Identity struct {
	ID            int64      `json:"id"`
	Kind          Kind       `json:"kind"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	NationalID    *string    `json:"national_id,omitempty"`
	ImageKey      string     `json:"image_key,omitempty"`
	CredentialKey string     `json:"credential_key,omitempty"`
	IsStudent     bool       `json:"is_student"`
	IsInstructor  bool       `json:"is_instructor"`
	InstitutionID *int64     `json:"institution_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Institution is a named grouping referenced by identities.
type Institution struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Sentinel errors. Repositories return these (wrapped) as storage facts;
// the service layer reports them to callers as part of the normal result.
var (
	ErrNotFound           = errors.New("identity not found")
	ErrDuplicate          = errors.New("duplicate identity")
	ErrUnknownInstitution = errors.New("unknown institution")
)
