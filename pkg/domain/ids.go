package domain

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "accounts/pkg/domain-errors"
)

// Typed identifiers keep credential, profile and correlation ids from being
// mixed up at compile time. All of them are non-nil UUIDs once parsed.
type (
	CredentialID  uuid.UUID
	ProfileID     uuid.UUID
	CorrelationID uuid.UUID
	EventID       uuid.UUID
)

// maxIDLength bounds input before it reaches uuid.Parse.
const maxIDLength = 64

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength || !utf8.ValidString(s) || strings.ContainsRune(s, 0) {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return u, nil
}

// NewCredentialID returns a fresh random credential id.
func NewCredentialID() CredentialID { return CredentialID(uuid.New()) }

// NewProfileID returns a fresh random profile id.
func NewProfileID() ProfileID { return ProfileID(uuid.New()) }

// NewCorrelationID returns a fresh random correlation id.
func NewCorrelationID() CorrelationID { return CorrelationID(uuid.New()) }

// NewEventID returns a fresh random event id.
func NewEventID() EventID { return EventID(uuid.New()) }

// ParseCredentialID parses a credential id at a trust boundary.
func ParseCredentialID(s string) (CredentialID, error) {
	u, err := parseUUID(s, "credential id")
	return CredentialID(u), err
}

// ParseProfileID parses a profile id at a trust boundary.
func ParseProfileID(s string) (ProfileID, error) {
	u, err := parseUUID(s, "profile id")
	return ProfileID(u), err
}

// ParseCorrelationID parses a correlation id at a trust boundary.
func ParseCorrelationID(s string) (CorrelationID, error) {
	u, err := parseUUID(s, "correlation id")
	return CorrelationID(u), err
}

func (i CredentialID) String() string  { return uuid.UUID(i).String() }
func (i ProfileID) String() string     { return uuid.UUID(i).String() }
func (i CorrelationID) String() string { return uuid.UUID(i).String() }
func (i EventID) String() string       { return uuid.UUID(i).String() }

func (i CredentialID) IsNil() bool  { return uuid.UUID(i) == uuid.Nil }
func (i ProfileID) IsNil() bool     { return uuid.UUID(i) == uuid.Nil }
func (i CorrelationID) IsNil() bool { return uuid.UUID(i) == uuid.Nil }
func (i EventID) IsNil() bool       { return uuid.UUID(i) == uuid.Nil }

// MarshalText lets typed ids render as plain UUID strings in JSON.
func (i CredentialID) MarshalText() ([]byte, error)  { return []byte(i.String()), nil }
func (i ProfileID) MarshalText() ([]byte, error)     { return []byte(i.String()), nil }
func (i CorrelationID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }
func (i EventID) MarshalText() ([]byte, error)       { return []byte(i.String()), nil }

func (i *CredentialID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*i = CredentialID(u)
	return nil
}

func (i *ProfileID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*i = ProfileID(u)
	return nil
}

func (i *CorrelationID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*i = CorrelationID(u)
	return nil
}

func (i *EventID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*i = EventID(u)
	return nil
}
