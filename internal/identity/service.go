package identity

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Issuer renders a scannable credential for an identity. Issuance is
// deterministic per identifier.
type Issuer interface {
	Issue(id int64, name, email string) (token string, png []byte, err error)
}

// ImageStore is the slice of the object store enrollment needs.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Service orchestrates enrollment and profile maintenance.
type Service struct {
	repo   Repository
	issuer Issuer
	images ImageStore
}

// NewService creates a service.
func NewService(repo Repository, issuer Issuer, images ImageStore) *Service {
	return &Service{repo: repo, issuer: issuer, images: images}
}

// EnrollParams carries enrollment input.
type EnrollParams struct {
	Kind          Kind
	Name          string
	Email         string
	NationalID    *string
	Image         []byte
	IsStudent     bool
	IsInstructor  bool
	InstitutionID *int64
}

// Enroll registers a new identity and attaches its credential. The whole
// operation is all-or-nothing: if credential issuance or storage fails
// after the identity row is persisted, the row is removed again so no
// identity exists without a credential. Duplicate detection is ultimately
// the storage constraint's job; the lookups here just give a friendly
// rejection before the insert.
func (s *Service) Enroll(ctx context.Context, p EnrollParams) (*Identity, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("invalid identity kind %q", p.Kind)
	}
	if p.Name == "" || p.Email == "" {
		return nil, errors.New("name and email required")
	}

	if _, err := s.repo.GetByEmail(ctx, p.Email); err == nil {
		return nil, fmt.Errorf("%w: email %s", ErrDuplicate, p.Email)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if p.NationalID != nil {
		exists, err := s.repo.NationalIDExists(ctx, *p.NationalID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: national id", ErrDuplicate)
		}
	}
	if p.InstitutionID != nil {
		exists, err := s.repo.InstitutionExists(ctx, *p.InstitutionID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownInstitution, *p.InstitutionID)
		}
	} else if p.IsInstructor {
		return nil, fmt.Errorf("%w: instructor enrollment requires an institution", ErrUnknownInstitution)
	}

	ident := &Identity{
		Kind:          p.Kind,
		Name:          p.Name,
		Email:         p.Email,
		NationalID:    p.NationalID,
		IsStudent:     p.IsStudent,
		IsInstructor:  p.IsInstructor,
		InstitutionID: p.InstitutionID,
	}

	if len(p.Image) > 0 {
		key := "identities/" + uuid.NewString() + ".jpg"
		if err := s.images.Put(ctx, key, p.Image, "image/jpeg"); err != nil {
			return nil, fmt.Errorf("store reference image: %w", err)
		}
		ident.ImageKey = key
	}

	if err := s.repo.Create(ctx, ident); err != nil {
		s.discardImage(ctx, ident.ImageKey)
		return nil, err
	}

	if err := s.attachCredential(ctx, ident); err != nil {
		// Roll the enrollment back; a credential-less identity must not
		// survive.
		if derr := s.repo.Delete(ctx, ident.ID); derr != nil {
			log.Printf("enrollment rollback failed for identity %d: %v", ident.ID, derr)
		}
		s.discardImage(ctx, ident.ImageKey)
		return nil, err
	}
	return ident, nil
}

func (s *Service) attachCredential(ctx context.Context, ident *Identity) error {
	_, png, err := s.issuer.Issue(ident.ID, ident.Name, ident.Email)
	if err != nil {
		return fmt.Errorf("issue credential: %w", err)
	}
	key := fmt.Sprintf("credentials/%d.png", ident.ID)
	if err := s.images.Put(ctx, key, png, "image/png"); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	if err := s.repo.SetCredential(ctx, ident.ID, key); err != nil {
		return err
	}
	ident.CredentialKey = key
	return nil
}

func (s *Service) discardImage(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.images.Delete(ctx, key); err != nil {
		log.Printf("discard image %s: %v", key, err)
	}
}

// Resolve returns the identity for id within the stated variant.
func (s *Service) Resolve(ctx context.Context, id int64, kind Kind) (*Identity, error) {
	return s.repo.Get(ctx, id, kind)
}

// UpdateParams carries a profile update; nil pointers leave the field
// unchanged.
type UpdateParams struct {
	Name          *string
	Email         *string
	NationalID    *string
	InstitutionID *int64
	Image         []byte
}

// Update applies a profile update, re-running the uniqueness checks.
func (s *Service) Update(ctx context.Context, id int64, kind Kind, p UpdateParams) (*Identity, error) {
	ident, err := s.repo.Get(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		ident.Name = *p.Name
	}
	if p.Email != nil && *p.Email != ident.Email {
		if _, err := s.repo.GetByEmail(ctx, *p.Email); err == nil {
			return nil, fmt.Errorf("%w: email %s", ErrDuplicate, *p.Email)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		ident.Email = *p.Email
	}
	if p.NationalID != nil {
		exists, err := s.repo.NationalIDExists(ctx, *p.NationalID)
		if err != nil {
			return nil, err
		}
		if exists && (ident.NationalID == nil || *ident.NationalID != *p.NationalID) {
			return nil, fmt.Errorf("%w: national id", ErrDuplicate)
		}
		ident.NationalID = p.NationalID
	}
	if p.InstitutionID != nil {
		exists, err := s.repo.InstitutionExists(ctx, *p.InstitutionID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownInstitution, *p.InstitutionID)
		}
		ident.InstitutionID = p.InstitutionID
	}
	var oldImage, newImage string
	if len(p.Image) > 0 {
		newImage = "identities/" + uuid.NewString() + ".jpg"
		if err := s.images.Put(ctx, newImage, p.Image, "image/jpeg"); err != nil {
			return nil, fmt.Errorf("store reference image: %w", err)
		}
		oldImage = ident.ImageKey
		ident.ImageKey = newImage
	}
	if err := s.repo.Update(ctx, ident); err != nil {
		s.discardImage(ctx, newImage)
		return nil, err
	}
	s.discardImage(ctx, oldImage)
	return ident, nil
}

// Delete removes an identity; its ledger and attempt history cascade at
// the storage layer. The stored images are best-effort cleanup.
func (s *Service) Delete(ctx context.Context, id int64, kind Kind) error {
	ident, err := s.repo.Get(ctx, id, kind)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.discardImage(ctx, ident.ImageKey)
	s.discardImage(ctx, ident.CredentialKey)
	return nil
}
