package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"accounts/internal/credential"
	"accounts/internal/platform/postgres"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/sentinel"
)

// Postgres persists credentials. Live-email uniqueness is enforced by partial
// unique indexes over rows with deleted_at IS NULL.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const credentialColumns = `id, email_ciphertext, email_blind_index, password_hash, external_id,
	roles, refresh_token_hash, created_at, updated_at, deleted_at`

func (s *Postgres) Create(ctx context.Context, c credential.Credential) error {
	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)
	`
	_, err := s.db.ExecContext(ctx, query,
		c.ID.String(),
		c.EmailCiphertext,
		c.EmailBlindIndex,
		nullString(c.PasswordHash),
		nullString(c.ExternalID),
		pq.Array(c.Roles),
		nullString(c.RefreshTokenHash),
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return classify("create credential", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, credentialID id.CredentialID, includeSecret bool) (*credential.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1 AND deleted_at IS NULL`
	return s.findOne(ctx, "find credential by id", includeSecret, query, credentialID.String())
}

func (s *Postgres) FindByEmailBlindIndex(ctx context.Context, blindIndex string, includeSecret bool) (*credential.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE email_blind_index = $1 AND deleted_at IS NULL`
	return s.findOne(ctx, "find credential by email", includeSecret, query, blindIndex)
}

func (s *Postgres) FindByExternalID(ctx context.Context, externalID string) (*credential.Credential, error) {
	if externalID == "" {
		return nil, sentinel.ErrNotFound
	}
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE external_id = $1 AND deleted_at IS NULL`
	return s.findOne(ctx, "find credential by external id", false, query, externalID)
}

func (s *Postgres) DeleteIfExists(ctx context.Context, credentialID id.CredentialID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET deleted_at = $2, refresh_token_hash = NULL, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, credentialID.String(), at)
	if err != nil {
		return false, classify("delete credential", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete credential rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Postgres) SetRefreshTokenHash(ctx context.Context, credentialID id.CredentialID, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET refresh_token_hash = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, credentialID.String(), nullString(hash), at)
	if err != nil {
		return classify("set refresh token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set refresh token rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) ClearRefreshToken(ctx context.Context, credentialID id.CredentialID, at time.Time) error {
	return s.SetRefreshTokenHash(ctx, credentialID, "", at)
}

func (s *Postgres) findOne(ctx context.Context, op string, includeSecret bool, query string, arg any) (*credential.Credential, error) {
	var (
		c            credential.Credential
		rawID        string
		passwordHash sql.NullString
		externalID   sql.NullString
		refreshHash  sql.NullString
		deletedAt    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rawID,
		&c.EmailCiphertext,
		&c.EmailBlindIndex,
		&passwordHash,
		&externalID,
		pq.Array(&c.Roles),
		&refreshHash,
		&c.CreatedAt,
		&c.UpdatedAt,
		&deletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify(op, err)
	}
	parsed, err := id.ParseCredentialID(rawID)
	if err != nil {
		return nil, fmt.Errorf("%s: stored id: %w", op, err)
	}
	c.ID = parsed
	c.PasswordHash = passwordHash.String
	c.ExternalID = externalID.String
	c.RefreshTokenHash = refreshHash.String
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	if !includeSecret {
		c = c.WithoutSecrets()
	}
	return &c, nil
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
