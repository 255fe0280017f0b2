package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"accounts/internal/platform/postgres"
	"accounts/internal/profile"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/sentinel"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const profileColumns = `id, credential_id, name, lastname, age, role, created_at, updated_at`

func (s *Postgres) Create(ctx context.Context, p profile.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID.String(), p.CredentialID.String(), p.Name, p.Lastname, p.Age, p.Role, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return classify("create profile", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, profileID id.ProfileID) (*profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, profileID.String())
	return scanOne("find profile by id", row)
}

func (s *Postgres) FindByCredentialID(ctx context.Context, credentialID id.CredentialID) (*profile.Profile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE credential_id = $1`, credentialID.String())
	return scanOne("find profile by credential", row)
}

func (s *Postgres) FindAll(ctx context.Context) ([]profile.Profile, error) {
	return s.query(ctx, "find profiles", `SELECT `+profileColumns+` FROM profiles ORDER BY created_at, id`)
}

func (s *Postgres) FindByRole(ctx context.Context, role string) ([]profile.Profile, error) {
	return s.query(ctx, "find profiles by role", `SELECT `+profileColumns+` FROM profiles WHERE role = $1 ORDER BY created_at, id`, role)
}

func (s *Postgres) Update(ctx context.Context, profileID id.ProfileID, patch profile.Patch, at time.Time) (*profile.Profile, error) {
	var name, lastname sql.NullString
	var age sql.NullInt64
	if patch.Name != nil {
		name = sql.NullString{String: *patch.Name, Valid: true}
	}
	if patch.Lastname != nil {
		lastname = sql.NullString{String: *patch.Lastname, Valid: true}
	}
	if patch.Age != nil {
		age = sql.NullInt64{Int64: int64(*patch.Age), Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE profiles SET
			name = COALESCE($2, name),
			lastname = COALESCE($3, lastname),
			age = COALESCE($4, age),
			updated_at = $5
		WHERE id = $1
		RETURNING `+profileColumns,
		profileID.String(), name, lastname, age, at)
	return scanOne("update profile", row)
}

func (s *Postgres) DeleteIfExists(ctx context.Context, profileID id.ProfileID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, profileID.String())
	if err != nil {
		return false, classify("delete profile", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete profile rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Postgres) query(ctx context.Context, op, query string, args ...any) ([]profile.Profile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var out []profile.Profile
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(op string, row scanner) (*profile.Profile, error) {
	p, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify(op, err)
	}
	return p, nil
}

func scan(row scanner) (*profile.Profile, error) {
	var (
		p              profile.Profile
		rawID, rawCred string
	)
	if err := row.Scan(&rawID, &rawCred, &p.Name, &p.Lastname, &p.Age, &p.Role, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	profileID, err := id.ParseProfileID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored profile id: %w", err)
	}
	credentialID, err := id.ParseCredentialID(rawCred)
	if err != nil {
		return nil, fmt.Errorf("stored credential id: %w", err)
	}
	p.ID = profileID
	p.CredentialID = credentialID
	return &p, nil
}

func classify(op string, err error) error {
	switch {
	case postgres.IsUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	case postgres.IsTransient(err):
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
