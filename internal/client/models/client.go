package models

import (
	"strings"
	"time"

	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
)

// ClientStatus is the reversible soft state of a client file. Status
// changes and erasure are entirely separate code paths; nothing in this
// type or its transitions can destroy data.
type ClientStatus string

const (
	StatusActive     ClientStatus = "active"
	StatusInactive   ClientStatus = "inactive"
	StatusDischarged ClientStatus = "discharged"
)

// ParseStatus validates an externally supplied status.
func ParseStatus(s string) (ClientStatus, error) {
	switch ClientStatus(s) {
	case StatusActive, StatusInactive, StatusDischarged:
		return ClientStatus(s), nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown client status %q", s)
}

// Identity carries the decrypted identity fields. It exists in memory only:
// at rest these travel as one sealed blob, and they are never logged.
type Identity struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// DOB uses the YYYY-MM-DD wire form.
	DOB   string `json:"dob"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Validate checks the fields needed to create a client file.
func (i Identity) Validate() error {
	if strings.TrimSpace(i.FirstName) == "" {
		return dErrors.New(dErrors.CodeValidation, "first name is required")
	}
	if strings.TrimSpace(i.LastName) == "" {
		return dErrors.New(dErrors.CodeValidation, "last name is required")
	}
	if i.DOB != "" {
		if _, err := time.Parse("2006-01-02", i.DOB); err != nil {
			return dErrors.New(dErrors.CodeValidation, "dob must be YYYY-MM-DD")
		}
	}
	return nil
}

// ClientFile is the stored form of a client record. Identity fields are a
// sealed ciphertext blob plus derived one-way match keys; the plaintext
// never touches the store.
type ClientFile struct {
	ID id.ClientID
	// Sealed is the fieldcrypt ciphertext of the Identity JSON.
	Sealed []byte
	// PhoneKey and NameDOBKey are SHA-256 digests of normalized identity
	// fields, used only for duplicate-candidate equality. Empty when the
	// source field is absent.
	PhoneKey   string
	NameDOBKey string

	Status     ClientStatus
	Enrolments []id.ProgramID
	CreatedAt  time.Time
	UpdatedAt  time.Time
	CreatedBy  id.UserID
}

// EnrolledIn reports whether the client is enrolled in the program.
func (c *ClientFile) EnrolledIn(programID id.ProgramID) bool {
	for _, p := range c.Enrolments {
		if p == programID {
			return true
		}
	}
	return false
}

// CanChangeStatus validates a soft status transition. All three soft states
// are mutually reversible; the only rejected "transition" is a no-op.
func (c *ClientFile) CanChangeStatus(to ClientStatus) error {
	if c.Status == to {
		return dErrors.Newf(dErrors.CodeConflict, "client is already %s", to)
	}
	return nil
}

// ApplyStatus records the transition. Call CanChangeStatus first.
func (c *ClientFile) ApplyStatus(to ClientStatus, now time.Time) {
	c.Status = to
	c.UpdatedAt = now
}

// CanEnrol validates adding a program enrolment.
func (c *ClientFile) CanEnrol(programID id.ProgramID) error {
	if c.EnrolledIn(programID) {
		return dErrors.New(dErrors.CodeConflict, "client is already enrolled in this program")
	}
	return nil
}

// ApplyEnrol records the enrolment. Call CanEnrol first.
func (c *ClientFile) ApplyEnrol(programID id.ProgramID, now time.Time) {
	c.Enrolments = append(c.Enrolments, programID)
	c.UpdatedAt = now
}

// CanWithdraw validates removing a program enrolment. A client always keeps
// at least one enrolment; a record no program can see would be unreachable
// through every read path.
func (c *ClientFile) CanWithdraw(programID id.ProgramID) error {
	if !c.EnrolledIn(programID) {
		return dErrors.New(dErrors.CodeConflict, "client is not enrolled in this program")
	}
	if len(c.Enrolments) == 1 {
		return dErrors.New(dErrors.CodeConflict, "cannot withdraw the last program enrolment")
	}
	return nil
}

// ApplyWithdraw records the withdrawal. Call CanWithdraw first.
func (c *ClientFile) ApplyWithdraw(programID id.ProgramID, now time.Time) {
	kept := c.Enrolments[:0]
	for _, p := range c.Enrolments {
		if p != programID {
			kept = append(kept, p)
		}
	}
	c.Enrolments = kept
	c.UpdatedAt = now
}

// NewClientFile constructs a stored client with its initial enrolment.
func NewClientFile(clientID id.ClientID, sealed []byte, phoneKey, nameDOBKey string, programID id.ProgramID, createdBy id.UserID, now time.Time) *ClientFile {
	return &ClientFile{
		ID:         clientID,
		Sealed:     sealed,
		PhoneKey:   phoneKey,
		NameDOBKey: nameDOBKey,
		Status:     StatusActive,
		Enrolments: []id.ProgramID{programID},
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  createdBy,
	}
}
