package checkin

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger and AttemptLog for dev and tests.
// It enforces the same (identity, day) uniqueness the Postgres index does.
type MemoryLedger struct {
	mu        sync.Mutex
	nextID    int64
	nextAttID int64
	records   map[int64]*Record
	byDay     map[int64]map[string]int64 // identity -> day key -> record id
	attempts  []Attempt
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		records: make(map[int64]*Record),
		byDay:   make(map[int64]map[string]int64),
	}
}

// Insert writes a new admission record, rejecting same-day duplicates.
func (l *MemoryLedger) Insert(_ context.Context, rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	days := l.byDay[rec.IdentityID]
	if days == nil {
		days = make(map[string]int64)
		l.byDay[rec.IdentityID] = days
	}
	if _, dup := days[rec.DayKey]; dup {
		return Record{}, ErrConflict
	}
	l.nextID++
	rec.ID = l.nextID
	cp := rec
	l.records[rec.ID] = &cp
	days[rec.DayKey] = rec.ID
	return rec, nil
}

// FindByDay returns the record for the given identity and day, or nil.
func (l *MemoryLedger) FindByDay(_ context.Context, identityID int64, dayKey string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byDay[identityID][dayKey]
	if !ok {
		return nil, nil
	}
	cp := *l.records[id]
	return &cp, nil
}

// ListByIdentity returns the identity's records ordered by arrival.
func (l *MemoryLedger) ListByIdentity(_ context.Context, identityID int64) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []Record
	for _, rec := range l.records {
		if rec.IdentityID == identityID {
			res = append(res, *rec)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ArrivedAt.Before(res[j].ArrivedAt) })
	return res, nil
}

// SetDeparture sets the write-once departure timestamp.
func (l *MemoryLedger) SetDeparture(_ context.Context, recordID int64, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[recordID]
	if !ok {
		return ErrNotFound
	}
	if rec.DepartedAt != nil {
		return ErrDeparted
	}
	rec.DepartedAt = &at
	return nil
}

// Insert writes a verification attempt.
func (l *MemoryLedger) InsertAttempt(_ context.Context, att Attempt) (Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextAttID++
	att.ID = l.nextAttID
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now()
	}
	l.attempts = append(l.attempts, att)
	return att, nil
}

// ListAttempts returns the identity's attempts ordered by timestamp.
func (l *MemoryLedger) ListAttempts(_ context.Context, identityID int64) ([]Attempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var res []Attempt
	for _, att := range l.attempts {
		if att.IdentityID == identityID {
			res = append(res, att)
		}
	}
	return res, nil
}

// Attempts returns the attempt log backed by the same maps.
func (l *MemoryLedger) Attempts() AttemptLog { return memoryAttemptLog{l} }

type memoryAttemptLog struct{ l *MemoryLedger }

func (a memoryAttemptLog) Insert(ctx context.Context, att Attempt) (Attempt, error) {
	return a.l.InsertAttempt(ctx, att)
}

func (a memoryAttemptLog) ListByIdentity(ctx context.Context, identityID int64) ([]Attempt, error) {
	return a.l.ListAttempts(ctx, identityID)
}
