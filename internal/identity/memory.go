package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository for dev and tests. It
// enforces the same email / national-ID uniqueness the Postgres
// constraints do.
type MemoryRepository struct {
	mu           sync.Mutex
	nextID       int64
	nextInstID   int64
	identities   map[int64]*Identity
	institutions map[int64]*Institution
}

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		identities:   make(map[int64]*Identity),
		institutions: make(map[int64]*Institution),
	}
}

// Create assigns an id and stores the identity.
func (r *MemoryRepository) Create(_ context.Context, ident *Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUnique(ident.Email, ident.NationalID, 0); err != nil {
		return err
	}
	r.nextID++
	ident.ID = r.nextID
	ident.CreatedAt = time.Now()
	cp := *ident
	r.identities[ident.ID] = &cp
	return nil
}

// Get resolves by id within the stated variant only.
func (r *MemoryRepository) Get(_ context.Context, id int64, kind Kind) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.identities[id]
	if !ok || ident.Kind != kind {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

// GetByEmail looks up across both variants.
func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ident := range r.identities {
		if ident.Email == email {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// NationalIDExists reports whether any identity carries the national ID.
func (r *MemoryRepository) NationalIDExists(_ context.Context, nationalID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ident := range r.identities {
		if ident.NationalID != nil && *ident.NationalID == nationalID {
			return true, nil
		}
	}
	return false, nil
}

// SetCredential attaches the issued credential key.
func (r *MemoryRepository) SetCredential(_ context.Context, id int64, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.identities[id]
	if !ok {
		return ErrNotFound
	}
	ident.CredentialKey = key
	return nil
}

// Update rewrites the mutable profile fields.
func (r *MemoryRepository) Update(_ context.Context, ident *Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.identities[ident.ID]
	if !ok {
		return ErrNotFound
	}
	if err := r.checkUnique(ident.Email, ident.NationalID, ident.ID); err != nil {
		return err
	}
	existing.Name = ident.Name
	existing.Email = ident.Email
	existing.NationalID = ident.NationalID
	existing.ImageKey = ident.ImageKey
	existing.InstitutionID = ident.InstitutionID
	return nil
}

// Delete removes the identity.
func (r *MemoryRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.identities[id]; !ok {
		return ErrNotFound
	}
	delete(r.identities, id)
	return nil
}

// CreateInstitution stores a named institution.
func (r *MemoryRepository) CreateInstitution(_ context.Context, name string) (*Institution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inst := range r.institutions {
		if inst.Name == name {
			return nil, ErrDuplicate
		}
	}
	r.nextInstID++
	inst := &Institution{ID: r.nextInstID, Name: name, CreatedAt: time.Now()}
	r.institutions[inst.ID] = inst
	cp := *inst
	return &cp, nil
}

// InstitutionExists reports whether the institution id resolves.
func (r *MemoryRepository) InstitutionExists(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.institutions[id]
	return ok, nil
}

// checkUnique mirrors the database constraints. exclude skips the row
// being updated.
func (r *MemoryRepository) checkUnique(email string, nationalID *string, exclude int64) error {
	for id, ident := range r.identities {
		if id == exclude {
			continue
		}
		if ident.Email == email {
			return ErrDuplicate
		}
		if nationalID != nil && ident.NationalID != nil && *ident.NationalID == *nationalID {
			return ErrDuplicate
		}
	}
	return nil
}
