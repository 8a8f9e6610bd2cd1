// Package ids provides the strongly typed identifiers used across the
// billing service. User and agent identifiers are UUIDs issued by the
// identity service; transaction identifiers are ULIDs so that byte order
// equals chronological order.
package ids

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidUserID indicates a malformed user id string.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrInvalidAgentID indicates a malformed agent id string.
	ErrInvalidAgentID = errors.New("invalid agent id")
	// ErrInvalidTransactionID indicates a malformed transaction id string.
	ErrInvalidTransactionID = errors.New("invalid transaction id")
)

// UserID identifies a billing account holder. The canonical text form is
// the hyphenated UUID; the binary form is 16 bytes.
type UserID uuid.UUID

// NewUserID generates a random UserID. Intended for tests and tooling;
// production ids arrive from the identity service.
func NewUserID() UserID {
	return UserID(uuid.New())
}

// ParseUserID parses the canonical UUID text form.
func ParseUserID(s string) (UserID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("%w: %q", ErrInvalidUserID, s)
	}
	return UserID(u), nil
}

// UserIDFromBytes decodes the 16-byte binary form.
func UserIDFromBytes(b []byte) (UserID, error) {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return UserID{}, fmt.Errorf("%w: %d bytes", ErrInvalidUserID, len(b))
	}
	return UserID(u), nil
}

func (id UserID) String() string { return uuid.UUID(id).String() }

// Bytes returns the 16-byte binary form used as a store key.
func (id UserID) Bytes() []byte {
	b := [16]byte(id)
	return b[:]
}

// IsZero reports whether the id is the all-zero UUID.
func (id UserID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id UserID) MarshalBinary() ([]byte, error) { return id.Bytes(), nil }

func (id *UserID) UnmarshalBinary(b []byte) error {
	parsed, err := UserIDFromBytes(b)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// AgentID identifies the agent that generated a usage event. Same shape as
// UserID, kept as a distinct type so the two cannot be swapped in
// interfaces.
type AgentID uuid.UUID

// NewAgentID generates a random AgentID.
func NewAgentID() AgentID {
	return AgentID(uuid.New())
}

// ParseAgentID parses the canonical UUID text form.
func ParseAgentID(s string) (AgentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return AgentID{}, fmt.Errorf("%w: %q", ErrInvalidAgentID, s)
	}
	return AgentID(u), nil
}

func (id AgentID) String() string { return uuid.UUID(id).String() }

// Bytes returns the 16-byte binary form.
func (id AgentID) Bytes() []byte {
	b := [16]byte(id)
	return b[:]
}

func (id AgentID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AgentID) UnmarshalText(b []byte) error {
	parsed, err := ParseAgentID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id AgentID) MarshalBinary() ([]byte, error) { return id.Bytes(), nil }

func (id *AgentID) UnmarshalBinary(b []byte) error {
	u, err := uuid.FromBytes(b)
	if err != nil {
		return fmt.Errorf("%w: %d bytes", ErrInvalidAgentID, len(b))
	}
	*id = AgentID(u)
	return nil
}

// TransactionID identifies a credit transaction. The high 48 bits carry
// the millisecond timestamp and the low 80 bits are random, so ids sort
// chronologically in both text and binary form. Text form is the 26
// character Crockford base-32 ULID.
type TransactionID ulid.ULID

// NewTransactionID generates an id stamped with the current wall clock.
// The default entropy source is monotonic within a millisecond, so ids
// issued by one process never sort out of issue order.
func NewTransactionID() TransactionID {
	return TransactionID(ulid.Make())
}

// ParseTransactionID parses the 26-character ULID text form. Parsing is
// strict: strings of any other length or with characters outside the
// Crockford base-32 alphabet are rejected. Letter case is not significant.
func ParseTransactionID(s string) (TransactionID, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return TransactionID{}, fmt.Errorf("%w: %q", ErrInvalidTransactionID, s)
	}
	return TransactionID(u), nil
}

// TransactionIDFromBytes decodes the 16-byte binary form.
func TransactionIDFromBytes(b []byte) (TransactionID, error) {
	if len(b) != 16 {
		return TransactionID{}, fmt.Errorf("%w: %d bytes", ErrInvalidTransactionID, len(b))
	}
	var u ulid.ULID
	copy(u[:], b)
	return TransactionID(u), nil
}

func (id TransactionID) String() string { return ulid.ULID(id).String() }

// Bytes returns the 16-byte binary form used as a store key.
func (id TransactionID) Bytes() []byte {
	b := [16]byte(id)
	return b[:]
}

// Time returns the embedded millisecond timestamp.
func (id TransactionID) Time() uint64 { return ulid.ULID(id).Time() }

func (id TransactionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TransactionID) UnmarshalText(b []byte) error {
	parsed, err := ParseTransactionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id TransactionID) MarshalBinary() ([]byte, error) { return id.Bytes(), nil }

func (id *TransactionID) UnmarshalBinary(b []byte) error {
	parsed, err := TransactionIDFromBytes(b)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
