package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"
)

// The memory repository backs service and coordinator tests, so it has to
// mirror the Postgres constraints exactly.
type MemoryRepositorySuite struct {
	suite.Suite
	repo *MemoryRepository
}

func (s *MemoryRepositorySuite) SetupTest() {
	s.repo = NewMemoryRepository()
}

func TestMemoryRepositorySuite(t *testing.T) {
	suite.Run(t, new(MemoryRepositorySuite))
}

func (s *MemoryRepositorySuite) create(kind Kind, name, email string) *Identity {
	ident := &Identity{Kind: kind, Name: name, Email: email}
	s.Require().NoError(s.repo.Create(context.Background(), ident))
	return ident
}

func (s *MemoryRepositorySuite) TestCreateAssignsSequentialIDs() {
	a := s.create(KindFull, "A", "a@x.com")
	b := s.create(KindQuick, "B", "b@x.com")
	s.Positive(a.ID)
	s.Greater(b.ID, a.ID)
	s.False(a.CreatedAt.IsZero())
}

func (s *MemoryRepositorySuite) TestEmailUniqueAcrossKinds() {
	s.create(KindFull, "A", "a@x.com")
	err := s.repo.Create(context.Background(), &Identity{Kind: KindQuick, Name: "B", Email: "a@x.com"})
	s.Require().ErrorIs(err, ErrDuplicate)
}

func (s *MemoryRepositorySuite) TestNationalIDUnique() {
	nid := "9999"
	s.Require().NoError(s.repo.Create(context.Background(), &Identity{Kind: KindFull, Name: "A", Email: "a@x.com", NationalID: &nid}))

	exists, err := s.repo.NationalIDExists(context.Background(), nid)
	s.Require().NoError(err)
	s.True(exists)

	err = s.repo.Create(context.Background(), &Identity{Kind: KindFull, Name: "B", Email: "b@x.com", NationalID: &nid})
	s.Require().ErrorIs(err, ErrDuplicate)
}

func (s *MemoryRepositorySuite) TestGetScopedToKind() {
	ident := s.create(KindFull, "A", "a@x.com")

	_, err := s.repo.Get(context.Background(), ident.ID, KindQuick)
	s.Require().ErrorIs(err, ErrNotFound)

	got, err := s.repo.Get(context.Background(), ident.ID, KindFull)
	s.Require().NoError(err)
	s.Equal("a@x.com", got.Email)

	_, err = s.repo.Get(context.Background(), 12345, KindFull)
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *MemoryRepositorySuite) TestSetCredential() {
	ident := s.create(KindFull, "A", "a@x.com")
	s.Require().NoError(s.repo.SetCredential(context.Background(), ident.ID, "credentials/1.png"))

	got, err := s.repo.Get(context.Background(), ident.ID, KindFull)
	s.Require().NoError(err)
	s.Equal("credentials/1.png", got.CredentialKey)

	s.Require().ErrorIs(s.repo.SetCredential(context.Background(), 999, "x"), ErrNotFound)
}

func (s *MemoryRepositorySuite) TestInstitutions() {
	inst, err := s.repo.CreateInstitution(context.Background(), "College")
	s.Require().NoError(err)
	s.Positive(inst.ID)

	_, err = s.repo.CreateInstitution(context.Background(), "College")
	s.Require().ErrorIs(err, ErrDuplicate)

	exists, err := s.repo.InstitutionExists(context.Background(), inst.ID)
	s.Require().NoError(err)
	s.True(exists)

	exists, err = s.repo.InstitutionExists(context.Background(), inst.ID+1)
	s.Require().NoError(err)
	s.False(exists)
}
