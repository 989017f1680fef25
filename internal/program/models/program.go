package models

import (
	"strings"
	"time"

	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
)

// Confidentiality classifies how a program's enrolments may be seen by
// users without a role in that program.
type Confidentiality string

const (
	// ConfidentialityStandard programs are soft-filtered: their client files
	// are hidden from out-of-scope users but may still surface as duplicate
	// candidates.
	ConfidentialityStandard Confidentiality = "standard"

	// ConfidentialityConfidential programs are a hard boundary: out-of-scope
	// users can never learn a client is enrolled, not even by inference.
	ConfidentialityConfidential Confidentiality = "confidential"
)

// ParseConfidentiality validates an externally supplied classification.
func ParseConfidentiality(s string) (Confidentiality, error) {
	switch Confidentiality(s) {
	case ConfidentialityStandard, ConfidentialityConfidential:
		return Confidentiality(s), nil
	case "":
		return ConfidentialityStandard, nil
	}
	return "", dErrors.Newf(dErrors.CodeValidation, "unknown confidentiality class %q", s)
}

// Program is a service line that clients enrol in.
//
// Invariants:
//   - Name is non-empty, at most 128 characters, unique across programs
//   - Confidentiality is monotonic: standard may become confidential, a
//     confidential program never becomes standard again
//   - CreatedAt is immutable after construction
type Program struct {
	ID              id.ProgramID    `json:"id"`
	Name            string          `json:"name"`
	Confidentiality Confidentiality `json:"confidentiality"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (p *Program) IsConfidential() bool {
	return p.Confidentiality == ConfidentialityConfidential
}

// CanMarkConfidential checks whether the upgrade transition is allowed.
// Use with ApplyConfidential in Execute callbacks.
func (p *Program) CanMarkConfidential() error {
	if p.IsConfidential() {
		return dErrors.New(dErrors.CodeConflict, "program is already confidential")
	}
	return nil
}

// ApplyConfidential transitions the program to the confidential class.
// Call CanMarkConfidential first to validate the transition.
func (p *Program) ApplyConfidential(now time.Time) {
	p.Confidentiality = ConfidentialityConfidential
	p.UpdatedAt = now
}

// ValidateTransition rejects any attempt to lower the classification. The
// service exposes no downgrade operation; this guard exists so a future
// update path cannot weaken the boundary silently.
func ValidateTransition(from, to Confidentiality) error {
	if from == ConfidentialityConfidential && to == ConfidentialityStandard {
		return dErrors.New(dErrors.CodeInvariantViolation, "confidential programs cannot be downgraded")
	}
	return nil
}

func NewProgram(programID id.ProgramID, name string, confidentiality Confidentiality, now time.Time) (*Program, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "program name cannot be empty")
	}
	if len(name) > 128 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "program name must be 128 characters or less")
	}
	switch confidentiality {
	case ConfidentialityStandard, ConfidentialityConfidential:
	default:
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown confidentiality class")
	}
	return &Program{
		ID:              programID,
		Name:            name,
		Confidentiality: confidentiality,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
