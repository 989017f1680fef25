package domain

import (
	"github.com/google/uuid"

	dErrors "caseguard/pkg/domain-errors"
)

// Typed IDs keep user, client, program, and erasure-request identifiers from
// being swapped at call sites. Construct from external input via the Parse
// helpers; direct casting bypasses validation and is reserved for internal
// code that already holds a valid UUID.
type (
	UserID           uuid.UUID
	ClientID         uuid.UUID
	ProgramID        uuid.UUID
	ErasureRequestID uuid.UUID
)

func (id UserID) String() string           { return uuid.UUID(id).String() }
func (id ClientID) String() string         { return uuid.UUID(id).String() }
func (id ProgramID) String() string        { return uuid.UUID(id).String() }
func (id ErasureRequestID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id ClientID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id ProgramID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ErasureRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewUserID returns a freshly generated user ID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewClientID returns a freshly generated client ID.
func NewClientID() ClientID { return ClientID(uuid.New()) }

// NewProgramID returns a freshly generated program ID.
func NewProgramID() ProgramID { return ProgramID(uuid.New()) }

// NewErasureRequestID returns a freshly generated erasure request ID.
func NewErasureRequestID() ErasureRequestID { return ErasureRequestID(uuid.New()) }

// ParseUserID parses an external string into a UserID.
// Errors: CodeInvalidInput when empty, malformed, or the nil UUID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return UserID{}, err
	}
	return UserID(u), nil
}

// ParseClientID parses an external string into a ClientID.
func ParseClientID(s string) (ClientID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ClientID{}, err
	}
	return ClientID(u), nil
}

// ParseProgramID parses an external string into a ProgramID.
func ParseProgramID(s string) (ProgramID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ProgramID{}, err
	}
	return ProgramID(u), nil
}

// ParseErasureRequestID parses an external string into an ErasureRequestID.
func ParseErasureRequestID(s string) (ErasureRequestID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ErasureRequestID{}, err
	}
	return ErasureRequestID(u), nil
}

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}
