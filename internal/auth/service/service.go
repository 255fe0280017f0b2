// Package service implements login, refresh-token rotation, logout and
// credential lookup on top of the credential store.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"accounts/internal/credential"
	jwttoken "accounts/internal/jwt_token"
	"accounts/internal/platform/metrics"
	id "accounts/pkg/domain"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/audit"
	"accounts/pkg/platform/sentinel"
	"accounts/pkg/requestcontext"
)

const msgInvalidCredentials = "invalid credentials"

type TokenIssuer interface {
	GenerateAccessToken(credentialID id.CredentialID, email string, roles []string, expiresIn time.Duration) (string, error)
	GenerateRefreshToken(credentialID id.CredentialID, expiresIn time.Duration) (string, error)
	ValidateRefreshToken(tokenString string) (*jwttoken.Claims, error)
}

type PasswordVerifier interface {
	Compare(hash, password string) error
}

type EmailProtector interface {
	Decrypt(ciphertext []byte) (string, error)
	BlindIndex(email string) string
}

type AuditRecorder interface {
	Append(ctx context.Context, event audit.Event) error
}

// TokenRevoker blocks an access token until it expires.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Account is a credential as shown to its owner: decrypted email, no secrets.
type Account struct {
	ID         id.CredentialID `json:"id"`
	Email      string          `json:"email"`
	ExternalID string          `json:"external_id,omitempty"`
	Roles      []string        `json:"roles"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Service struct {
	credentials credential.Store
	emails      EmailProtector
	passwords   PasswordVerifier
	tokens      TokenIssuer
	audit       AuditRecorder
	revoker     TokenRevoker
	metrics     *metrics.Metrics
	logger      *slog.Logger
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAudit(a AuditRecorder) Option {
	return func(s *Service) { s.audit = a }
}

func WithRevoker(r TokenRevoker) Option {
	return func(s *Service) { s.revoker = r }
}

func WithTokenTTLs(access, refresh time.Duration) Option {
	return func(s *Service) {
		if access > 0 {
			s.accessTTL = access
		}
		if refresh > 0 {
			s.refreshTTL = refresh
		}
	}
}

func New(
	credentials credential.Store,
	emails EmailProtector,
	passwords PasswordVerifier,
	tokens TokenIssuer,
	opts ...Option,
) *Service {
	s := &Service{
		credentials: credentials,
		emails:      emails,
		passwords:   passwords,
		tokens:      tokens,
		logger:      slog.Default(),
		accessTTL:   15 * time.Minute,
		refreshTTL:  7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies the password and issues a token pair. Unknown emails,
// password-less credentials and wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	c, err := s.credentials.FindByEmailBlindIndex(ctx, s.emails.BlindIndex(email), true)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.authFailed(ctx, "", "unknown email")
			return nil, dErrors.New(dErrors.CodeUnauthorized, msgInvalidCredentials)
		}
		return nil, translate(err)
	}
	if c.PasswordHash == "" {
		s.authFailed(ctx, c.ID.String(), "credential has no password")
		return nil, dErrors.New(dErrors.CodeUnauthorized, msgInvalidCredentials)
	}
	if err := s.passwords.Compare(c.PasswordHash, password); err != nil {
		if errors.Is(err, credential.ErrPasswordMismatch) {
			s.authFailed(ctx, c.ID.String(), "password mismatch")
			return nil, dErrors.New(dErrors.CodeUnauthorized, msgInvalidCredentials)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}

	plain, err := s.emails.Decrypt(c.EmailCiphertext)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read email")
	}
	pair, err := s.issue(ctx, c, plain)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrementLoginAttempts("success")
	s.record(ctx, audit.EventLoginSucceeded, c.ID.String(), "")
	return pair, nil
}

// Refresh rotates the refresh token. A token that does not match the stored
// hash was already rotated or revoked; presenting it revokes the current one.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	credentialID, err := claims.CredentialID()
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token subject")
	}
	c, err := s.credentials.FindByID(ctx, credentialID, true)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
		}
		return nil, translate(err)
	}
	if c.RefreshTokenHash == "" || subtle.ConstantTimeCompare([]byte(c.RefreshTokenHash), []byte(hashToken(refreshToken))) != 1 {
		s.logger.WarnContext(ctx, "refresh token reuse detected",
			"credential_id", credentialID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		if c.RefreshTokenHash != "" {
			if err := s.credentials.ClearRefreshToken(ctx, credentialID, requestcontext.Now(ctx)); err != nil {
				s.logger.ErrorContext(ctx, "failed to revoke refresh token", "error", err)
			}
		}
		s.authFailed(ctx, credentialID.String(), "refresh token mismatch")
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
	}

	plain, err := s.emails.Decrypt(c.EmailCiphertext)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read email")
	}
	pair, err := s.issue(ctx, c, plain)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.EventTokenRefreshed, c.ID.String(), "")
	return pair, nil
}

// Logout revokes the caller's refresh token and, with a revoker configured,
// the access token that authenticated the request.
func (s *Service) Logout(ctx context.Context, credentialID id.CredentialID) error {
	now := requestcontext.Now(ctx)
	if err := s.credentials.ClearRefreshToken(ctx, credentialID, now); err != nil {
		return translate(err)
	}
	if jti, expiresAt := requestcontext.AccessToken(ctx); s.revoker != nil && jti != "" {
		if ttl := expiresAt.Sub(now); ttl > 0 {
			if err := s.revoker.RevokeToken(ctx, jti, ttl); err != nil {
				return translate(err)
			}
		}
	}
	s.record(ctx, audit.EventLoggedOut, credentialID.String(), "")
	return nil
}

// Lookup returns the credential with its email decrypted.
func (s *Service) Lookup(ctx context.Context, credentialID id.CredentialID) (*Account, error) {
	c, err := s.credentials.FindByID(ctx, credentialID, false)
	if err != nil {
		return nil, translate(err)
	}
	plain, err := s.emails.Decrypt(c.EmailCiphertext)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read email")
	}
	roles := c.Roles
	if roles == nil {
		roles = []string{}
	}
	return &Account{
		ID:         c.ID,
		Email:      plain,
		ExternalID: c.ExternalID,
		Roles:      roles,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}, nil
}

func (s *Service) issue(ctx context.Context, c *credential.Credential, email string) (*TokenPair, error) {
	access, err := s.tokens.GenerateAccessToken(c.ID, email, c.Roles, s.accessTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate tokens")
	}
	refresh, err := s.tokens.GenerateRefreshToken(c.ID, s.refreshTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate tokens")
	}
	if err := s.credentials.SetRefreshTokenHash(ctx, c.ID, hashToken(refresh), requestcontext.Now(ctx)); err != nil {
		return nil, translate(err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

func (s *Service) authFailed(ctx context.Context, subject, reason string) {
	s.metrics.IncrementLoginAttempts("failure")
	s.logger.WarnContext(ctx, "authentication failed",
		"credential_id", subject,
		"reason", reason,
		"client_ip", requestcontext.ClientIP(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.record(ctx, audit.EventAuthFailed, subject, reason)
}

// record audits an auth event. Each one is its own single-entry trail.
func (s *Service) record(ctx context.Context, action audit.AuditEvent, subject, reason string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Append(ctx, audit.Event{
		CorrelationID: id.NewCorrelationID(),
		Action:        action,
		Subject:       subject,
		Reason:        reason,
		ClientIP:      requestcontext.ClientIP(ctx),
		Device:        requestcontext.Device(ctx),
		Timestamp:     requestcontext.Now(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to append audit event", "action", string(action), "error", err)
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func translate(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "credential not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "credential store error")
	}
}
