package checkin

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"gatepass/internal/identity"
)

// Outcome is the terminal state of one scan.
type Outcome string

const (
	OutcomeAdmitted          Outcome = "admitted"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeDuplicateToday    Outcome = "duplicate_today"
	OutcomeNoMatch           Outcome = "no_match"
	OutcomeVerificationError Outcome = "verification_error"
)

// ScanRequest is one presented credential, optionally with a live capture
// for biometric confirmation.
type ScanRequest struct {
	IdentityID   int64
	Kind         identity.Kind
	RequireMatch bool
	Candidate    []byte
}

// ScanResult reports the terminal state. Record is set only on admission;
// Note carries detail for rejections.
type ScanResult struct {
	Outcome Outcome `json:"outcome"`
	Record  *Record `json:"record,omitempty"`
	Note    string  `json:"note,omitempty"`
}

// Resolver resolves a scanned identifier to an enrolled identity.
type Resolver interface {
	Resolve(ctx context.Context, id int64, kind identity.Kind) (*identity.Identity, error)
}

// Verifier compares a stored reference image against a live capture.
type Verifier interface {
	Compare(ctx context.Context, reference, candidate []byte) (bool, error)
}

// ImageStore is the slice of the object store the coordinator needs:
// reading reference images and archiving candidate captures.
type ImageStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Coordinator runs the scan state machine: resolve the identity, reject
// same-day duplicates, optionally verify the face, then commit exactly
// one ledger record.
type Coordinator struct {
	ledger   Ledger
	attempts AttemptLog
	resolver Resolver
	verifier Verifier
	images   ImageStore
	roster   Roster // optional
	locks    *identityLocks
	now      func() time.Time
}

// NewCoordinator wires the scan path. roster may be nil.
func NewCoordinator(ledger Ledger, attempts AttemptLog, resolver Resolver, verifier Verifier, images ImageStore, roster Roster) *Coordinator {
	return &Coordinator{
		ledger:   ledger,
		attempts: attempts,
		resolver: resolver,
		verifier: verifier,
		images:   images,
		roster:   roster,
		locks:    newIdentityLocks(),
		now:      time.Now,
	}
}

// WithClock overrides the coordinator's clock; used by tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Scan drives one credential presentation to a terminal outcome. Rejection
// outcomes are part of the normal result, not errors; the error return is
// reserved for unexpected storage or IO faults, in which case the ledger
// is guaranteed untouched for this scan.
func (c *Coordinator) Scan(ctx context.Context, req ScanRequest) (ScanResult, error) {
	ident, err := c.resolver.Resolve(ctx, req.IdentityID, req.Kind)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ScanResult{Outcome: OutcomeNotFound}, nil
		}
		return ScanResult{}, err
	}

	day := DayKey(c.now())

	// Friendly duplicate rejections before any heavy work. Neither is
	// authoritative; the insert below is.
	if c.roster != nil && c.roster.CheckedIn(ctx, ident.ID, day) {
		return ScanResult{Outcome: OutcomeDuplicateToday}, nil
	}
	if existing, err := c.ledger.FindByDay(ctx, ident.ID, day); err != nil {
		return ScanResult{}, err
	} else if existing != nil {
		return ScanResult{Outcome: OutcomeDuplicateToday}, nil
	}

	verified := false
	if req.RequireMatch {
		res, ok := c.verify(ctx, ident, req.Candidate)
		if !ok {
			return res, nil
		}
		verified = true
	}

	// Verification can be slow, so the per-identity lock covers only the
	// re-check and the insert.
	mu := c.locks.get(ident.ID)
	mu.Lock()
	defer mu.Unlock()

	now := c.now()
	day = DayKey(now)
	if existing, err := c.ledger.FindByDay(ctx, ident.ID, day); err != nil {
		return ScanResult{}, err
	} else if existing != nil {
		return ScanResult{Outcome: OutcomeDuplicateToday}, nil
	}

	rec, err := c.ledger.Insert(ctx, Record{
		IdentityID: ident.ID,
		ArrivedAt:  now,
		DayKey:     day,
		Matched:    verified,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost the race to a concurrent scan; same rejection the
			// loser would have seen moments earlier.
			return ScanResult{Outcome: OutcomeDuplicateToday}, nil
		}
		return ScanResult{}, err
	}
	return ScanResult{Outcome: OutcomeAdmitted, Record: &rec}, nil
}

// verify runs the biometric leg. It logs a VerificationAttempt on every
// engine invocation and on every failure to reach the engine, so the
// audit trail is complete even when the inputs were unusable. ok is true
// only when the engine reported a match.
func (c *Coordinator) verify(ctx context.Context, ident *identity.Identity, candidate []byte) (ScanResult, bool) {
	if ident.ImageKey == "" {
		c.logAttempt(ctx, ident.ID, "", false, "reference image missing")
		return ScanResult{Outcome: OutcomeVerificationError, Note: "no reference image on file"}, false
	}
	if len(candidate) == 0 {
		c.logAttempt(ctx, ident.ID, "", false, "candidate image missing")
		return ScanResult{Outcome: OutcomeVerificationError, Note: "candidate image required"}, false
	}

	reference, err := c.images.Get(ctx, ident.ImageKey)
	if err != nil {
		c.logAttempt(ctx, ident.ID, "", false, "reference image unreadable: "+err.Error())
		return ScanResult{Outcome: OutcomeVerificationError, Note: "reference image unreadable"}, false
	}

	captureKey := "captures/" + uuid.NewString() + ".jpg"
	if err := c.images.Put(ctx, captureKey, candidate, "image/jpeg"); err != nil {
		log.Printf("archive capture for identity %d: %v", ident.ID, err)
		captureKey = ""
	}

	matched, err := c.verifier.Compare(ctx, reference, candidate)
	if err != nil {
		c.logAttempt(ctx, ident.ID, captureKey, false, err.Error())
		return ScanResult{Outcome: OutcomeVerificationError, Note: "verification failed"}, false
	}
	c.logAttempt(ctx, ident.ID, captureKey, matched, "")
	if !matched {
		return ScanResult{Outcome: OutcomeNoMatch}, false
	}
	return ScanResult{}, true
}

func (c *Coordinator) logAttempt(ctx context.Context, identityID int64, imageKey string, matched bool, note string) {
	att := Attempt{IdentityID: identityID, ImageKey: imageKey, Matched: matched}
	if note != "" {
		att.ErrorNote = &note
	}
	if _, err := c.attempts.Insert(ctx, att); err != nil {
		log.Printf("log verification attempt for identity %d: %v", identityID, err)
	}
}
