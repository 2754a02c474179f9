package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Repository is the persistence contract for identities and institutions.
type Repository interface {
	Create(ctx context.Context, ident *Identity) error
	Get(ctx context.Context, id int64, kind Kind) (*Identity, error)
	GetByEmail(ctx context.Context, email string) (*Identity, error)
	NationalIDExists(ctx context.Context, nationalID string) (bool, error)
	SetCredential(ctx context.Context, id int64, key string) error
	Update(ctx context.Context, ident *Identity) error
	Delete(ctx context.Context, id int64) error

	CreateInstitution(ctx context.Context, name string) (*Institution, error)
	InstitutionExists(ctx context.Context, id int64) (bool, error)
}

// PostgresRepository persists identities in Postgres. The unique
// constraints on email and national_id are the authoritative duplicate
// enforcers; violations come back as ErrDuplicate.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const identityColumns = `id, kind, name, email, national_id, image_key, credential_key, is_student, is_instructor, institution_id, created_at`

// Create inserts a new identity and assigns its identifier.
func (r *PostgresRepository) Create(ctx context.Context, ident *Identity) error {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO identities (kind, name, email, national_id, image_key, credential_key, is_student, is_instructor, institution_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id, created_at
	`, ident.Kind, ident.Name, ident.Email, ident.NationalID, nullable(ident.ImageKey), nullable(ident.CredentialKey),
		ident.IsStudent, ident.IsInstructor, ident.InstitutionID)
	if err := row.Scan(&ident.ID, &ident.CreatedAt); err != nil {
		return translate(err)
	}
	return nil
}

// Get returns the identity with the given id in the stated variant.
// A matching row under the other variant is still ErrNotFound: resolution
// never falls back silently between namespaces.
func (r *PostgresRepository) Get(ctx context.Context, id int64, kind Kind) (*Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE id = $1 AND kind = $2
	`, id, kind)
	return scanIdentity(row)
}

// GetByEmail looks up across both variants; email is one namespace.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM identities WHERE email = $1
	`, email)
	return scanIdentity(row)
}

// NationalIDExists reports whether any identity carries the national ID.
func (r *PostgresRepository) NationalIDExists(ctx context.Context, nationalID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identities WHERE national_id = $1)`, nationalID,
	).Scan(&exists)
	return exists, err
}

// SetCredential attaches the issued credential key.
func (r *PostgresRepository) SetCredential(ctx context.Context, id int64, key string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE identities SET credential_key = $2 WHERE id = $1`, id, key)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Update rewrites the mutable profile fields.
func (r *PostgresRepository) Update(ctx context.Context, ident *Identity) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities
		SET name = $2, email = $3, national_id = $4, image_key = $5, institution_id = $6
		WHERE id = $1
	`, ident.ID, ident.Name, ident.Email, ident.NationalID, nullable(ident.ImageKey), ident.InstitutionID)
	if err != nil {
		return translate(err)
	}
	return requireRow(res)
}

// Delete removes the identity; checkins and verification attempts cascade.
func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// CreateInstitution inserts a named institution.
func (r *PostgresRepository) CreateInstitution(ctx context.Context, name string) (*Institution, error) {
	inst := &Institution{Name: name}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO institutions (name) VALUES ($1) RETURNING id, created_at`, name,
	).Scan(&inst.ID, &inst.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return inst, nil
}

// InstitutionExists reports whether the institution id resolves.
func (r *PostgresRepository) InstitutionExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM institutions WHERE id = $1)`, id,
	).Scan(&exists)
	return exists, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*Identity, error) {
	var ident Identity
	var imageKey, credentialKey sql.NullString
	err := row.Scan(&ident.ID, &ident.Kind, &ident.Name, &ident.Email, &ident.NationalID,
		&imageKey, &credentialKey, &ident.IsStudent, &ident.IsInstructor, &ident.InstitutionID, &ident.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ident.ImageKey = imageKey.String
	ident.CredentialKey = credentialKey.String
	return &ident, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// translate maps Postgres unique violations to ErrDuplicate.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
