package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatepass/internal/credential"
	"gatepass/internal/identity"
	"gatepass/internal/imagestore"
)

type stubVerifier struct {
	matched bool
	err     error
	calls   int
}

func (v *stubVerifier) Compare(_ context.Context, _, _ []byte) (bool, error) {
	v.calls++
	return v.matched, v.err
}

type fixture struct {
	ledger   *MemoryLedger
	images   *imagestore.MemoryStore
	idents   *identity.Service
	verifier *stubVerifier
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := NewMemoryLedger()
	images := imagestore.NewMemoryStore()
	idents := identity.NewService(identity.NewMemoryRepository(), credential.NewIssuer(128), images)
	verifier := &stubVerifier{matched: true}
	coord := NewCoordinator(ledger, ledger.Attempts(), idents, verifier, images, nil)
	return &fixture{ledger: ledger, images: images, idents: idents, verifier: verifier, coord: coord}
}

func (f *fixture) enroll(t *testing.T, name, email string, image []byte) *identity.Identity {
	t.Helper()
	ident, err := f.idents.Enroll(context.Background(), identity.EnrollParams{
		Kind:  identity.KindFull,
		Name:  name,
		Email: email,
		Image: image,
	})
	require.NoError(t, err)
	return ident
}

func TestScanAdmitsOncePerDay(t *testing.T) {
	f := newFixture(t)
	asha := f.enroll(t, "Asha", "a@x.com", nil)

	morning := time.Date(2025, 3, 10, 9, 0, 0, 0, time.Local)
	f.coord.WithClock(func() time.Time { return morning })

	res, err := f.coord.Scan(context.Background(), ScanRequest{IdentityID: asha.ID, Kind: identity.KindFull})
	require.NoError(t, err)
	require.Equal(t, OutcomeAdmitted, res.Outcome)
	require.NotNil(t, res.Record)
	assert.False(t, res.Record.Matched)
	assert.Equal(t, "2025-03-10", res.Record.DayKey)

	// Second scan the same evening is a duplicate, ledger untouched.
	evening := time.Date(2025, 3, 10, 17, 0, 0, 0, time.Local)
	f.coord.WithClock(func() time.Time { return evening })
	res, err = f.coord.Scan(context.Background(), ScanRequest{IdentityID: asha.ID, Kind: identity.KindFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateToday, res.Outcome)

	records, err := f.ledger.ListByIdentity(context.Background(), asha.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)

	// Next calendar day admits again.
	nextDay := time.Date(2025, 3, 11, 8, 30, 0, 0, time.Local)
	f.coord.WithClock(func() time.Time { return nextDay })
	res, err = f.coord.Scan(context.Background(), ScanRequest{IdentityID: asha.ID, Kind: identity.KindFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, res.Outcome)

	records, err = f.ledger.ListByIdentity(context.Background(), asha.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestScanUnknownIdentity(t *testing.T) {
	f := newFixture(t)

	res, err := f.coord.Scan(context.Background(), ScanRequest{IdentityID: 404, Kind: identity.KindFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
	assert.Nil(t, res.Record)

	records, err := f.ledger.ListByIdentity(context.Background(), 404)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestScanKindMismatchIsNotFound(t *testing.T) {
	f := newFixture(t)
	ident := f.enroll(t, "Mira", "mira@x.com", nil)

	res, err := f.coord.Scan(context.Background(), ScanRequest{IdentityID: ident.ID, Kind: identity.KindQuick})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestScanNoMatchLogsAttempt(t *testing.T) {
	f := newFixture(t)
	ravi := f.enroll(t, "Ravi", "ravi@x.com", []byte("reference-photo"))
	f.verifier.matched = false

	res, err := f.coord.Scan(context.Background(), ScanRequest{
		IdentityID:   ravi.ID,
		Kind:         identity.KindFull,
		RequireMatch: true,
		Candidate:    []byte("live-capture"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoMatch, res.Outcome)

	records, err := f.ledger.ListByIdentity(context.Background(), ravi.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	attempts, err := f.ledger.ListAttempts(context.Background(), ravi.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Matched)
	assert.Nil(t, attempts[0].ErrorNote)
}

func TestScanMatchedAdmission(t *testing.T) {
	f := newFixture(t)
	ravi := f.enroll(t, "Ravi", "ravi@x.com", []byte("reference-photo"))

	res, err := f.coord.Scan(context.Background(), ScanRequest{
		IdentityID:   ravi.ID,
		Kind:         identity.KindFull,
		RequireMatch: true,
		Candidate:    []byte("live-capture"),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAdmitted, res.Outcome)
	assert.True(t, res.Record.Matched)
	assert.Equal(t, 1, f.verifier.calls)

	attempts, err := f.ledger.ListAttempts(context.Background(), ravi.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Matched)
}

func TestScanMissingReferenceImage(t *testing.T) {
	f := newFixture(t)
	ident := f.enroll(t, "NoPhoto", "nophoto@x.com", nil)

	res, err := f.coord.Scan(context.Background(), ScanRequest{
		IdentityID:   ident.ID,
		Kind:         identity.KindFull,
		RequireMatch: true,
		Candidate:    []byte("live-capture"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerificationError, res.Outcome)
	assert.Equal(t, 0, f.verifier.calls)

	records, err := f.ledger.ListByIdentity(context.Background(), ident.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	attempts, err := f.ledger.ListAttempts(context.Background(), ident.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].ErrorNote)
	assert.Contains(t, *attempts[0].ErrorNote, "reference image missing")
}

func TestScanVerifierFailureLogsErrorNote(t *testing.T) {
	f := newFixture(t)
	ident := f.enroll(t, "Blur", "blur@x.com", []byte("reference-photo"))
	f.verifier.err = errors.New("unreadable image")

	res, err := f.coord.Scan(context.Background(), ScanRequest{
		IdentityID:   ident.ID,
		Kind:         identity.KindFull,
		RequireMatch: true,
		Candidate:    []byte("live-capture"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerificationError, res.Outcome)

	attempts, err := f.ledger.ListAttempts(context.Background(), ident.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].ErrorNote)
	assert.Contains(t, *attempts[0].ErrorNote, "unreadable image")
}

func TestConcurrentScansAdmitExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ident := f.enroll(t, "Rush", "rush@x.com", nil)

	const n = 32
	var wg sync.WaitGroup
	outcomes := make([]Outcome, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.coord.Scan(context.Background(), ScanRequest{IdentityID: ident.ID, Kind: identity.KindFull})
			outcomes[i] = res.Outcome
			errs[i] = err
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	admitted := 0
	for _, o := range outcomes {
		switch o {
		case OutcomeAdmitted:
			admitted++
		case OutcomeDuplicateToday:
		default:
			t.Fatalf("unexpected outcome %q", o)
		}
	}
	assert.Equal(t, 1, admitted)

	records, err := f.ledger.ListByIdentity(context.Background(), ident.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRosterShortCircuitsDuplicates(t *testing.T) {
	ledger := NewMemoryLedger()
	images := imagestore.NewMemoryStore()
	idents := identity.NewService(identity.NewMemoryRepository(), credential.NewIssuer(128), images)
	roster := &fakeRoster{marked: make(map[string]bool)}
	coord := NewCoordinator(ledger, ledger.Attempts(), idents, &stubVerifier{matched: true}, images, roster)

	ident, err := idents.Enroll(context.Background(), identity.EnrollParams{
		Kind: identity.KindFull, Name: "Cached", Email: "cached@x.com",
	})
	require.NoError(t, err)

	res, err := coord.Scan(context.Background(), ScanRequest{IdentityID: ident.ID, Kind: identity.KindFull})
	require.NoError(t, err)
	require.Equal(t, OutcomeAdmitted, res.Outcome)

	// Simulate the worker marking the roster; the next scan never reaches
	// the ledger read.
	require.NoError(t, roster.Mark(context.Background(), ident.ID, res.Record.DayKey))
	res, err = coord.Scan(context.Background(), ScanRequest{IdentityID: ident.ID, Kind: identity.KindFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicateToday, res.Outcome)
}

type fakeRoster struct {
	mu     sync.Mutex
	marked map[string]bool
}

func (r *fakeRoster) key(id int64, day string) string {
	return fmt.Sprintf("%s/%d", day, id)
}

func (r *fakeRoster) CheckedIn(_ context.Context, id int64, day string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marked[r.key(id, day)]
}

func (r *fakeRoster) Mark(_ context.Context, id int64, day string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marked[r.key(id, day)] = true
	return nil
}
