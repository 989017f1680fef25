// Package match implements the duplicate matcher: tiered, advisory, and
// strictly confined to the standard-program candidate pool the boundary
// hands it.
package match

import (
	"context"
	"log/slog"

	"caseguard/internal/boundary"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
)

// Field names the identity field a candidate matched on.
type Field string

const (
	FieldPhone        Field = "phone"
	FieldFirstNameDOB Field = "first_name_dob"
)

// Confidence ranks a candidate. Tier 1 (exact phone) is high; tier 2
// (folded first name + DOB) is medium.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
)

// Input is the complete matcher input. Emergency contacts, addresses, notes
// and custom fields are structurally absent: the matcher cannot consult
// what it cannot receive.
type Input struct {
	FirstName string
	DOB       string
	Phone     string
}

// Candidate is a transient possible-duplicate result. Never persisted and
// never cached across requests, so it always reflects the current boundary
// and record set.
type Candidate struct {
	ClientID   id.ClientID `json:"client_id"`
	MatchedOn  Field       `json:"matched_on"`
	Confidence Confidence  `json:"confidence"`
}

// CandidateFinder looks up clients by a derived match key, constrained by a
// boundary Visibility. Implemented by the client store.
type CandidateFinder interface {
	FindByMatchKey(ctx context.Context, vis boundary.Visibility, field Field, key string) ([]id.ClientID, error)
}

// Matcher evaluates tiers in order, short-circuiting on the first tier with
// any hit. Output is advisory: it informs the user, it never blocks the
// create.
type Matcher struct {
	clients CandidateFinder
	logger  *slog.Logger
}

type Option func(m *Matcher)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// New constructs a Matcher.
func New(clients CandidateFinder, opts ...Option) *Matcher {
	m := &Matcher{clients: clients, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FindCandidates runs the tiers against the given candidate pool. The pool
// must come from Boundary.MatchPoolFor, which already excludes confidential
// programs and the requesting user's blocked clients.
func (m *Matcher) FindCandidates(ctx context.Context, pool boundary.Visibility, in Input) ([]Candidate, error) {
	if key := PhoneKey(in.Phone); key != "" {
		ids, err := m.clients.FindByMatchKey(ctx, pool, FieldPhone, key)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "tier 1 match failed")
		}
		if len(ids) > 0 {
			return toCandidates(ids, FieldPhone, ConfidenceHigh), nil
		}
	}

	if key := NameDOBKey(in.FirstName, in.DOB); key != "" {
		ids, err := m.clients.FindByMatchKey(ctx, pool, FieldFirstNameDOB, key)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "tier 2 match failed")
		}
		if len(ids) > 0 {
			return toCandidates(ids, FieldFirstNameDOB, ConfidenceMedium), nil
		}
	}

	return nil, nil
}

func toCandidates(ids []id.ClientID, field Field, confidence Confidence) []Candidate {
	out := make([]Candidate, 0, len(ids))
	for _, clientID := range ids {
		out = append(out, Candidate{ClientID: clientID, MatchedOn: field, Confidence: confidence})
	}
	return out
}
