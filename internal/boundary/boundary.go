// Package boundary is the confidentiality choke point. Every client read
// path (listing, detail, search, duplicate matching, counting) must go
// through a Visibility value, and Visibility values can only be built here.
// A store method that takes a Visibility cannot run an unfiltered query,
// which structurally prevents boundary-bypass bugs in alternate listing or
// debug paths.
package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"caseguard/internal/platform/metrics"
	programModel "caseguard/internal/program/models"
	scopeModel "caseguard/internal/scope/models"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
)

// Visibility is an opaque read constraint: the set of programs whose
// enrolments the query may see and the clients the user is blocked from.
// All fields are unexported; construct via Boundary.VisibilityFor or
// Boundary.MatchPoolFor.
type Visibility struct {
	userID   id.UserID
	programs map[id.ProgramID]scopeModel.Role
	blocked  map[id.ClientID]struct{}
}

func (v Visibility) UserID() id.UserID { return v.userID }

// AllowsProgram reports whether enrolments in the program are inside the
// constraint.
func (v Visibility) AllowsProgram(programID id.ProgramID) bool {
	_, ok := v.programs[programID]
	return ok
}

// Blocks reports whether the client is suppressed by a negative override.
func (v Visibility) Blocks(clientID id.ClientID) bool {
	_, ok := v.blocked[clientID]
	return ok
}

// ProgramIDs returns the visible programs in stable order, for SQL IN
// clauses and deterministic tests.
func (v Visibility) ProgramIDs() []id.ProgramID {
	out := make([]id.ProgramID, 0, len(v.programs))
	for p := range v.programs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// BlockedIDs returns the blocked clients in stable order.
func (v Visibility) BlockedIDs() []id.ClientID {
	out := make([]id.ClientID, 0, len(v.blocked))
	for c := range v.blocked {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// IsEmpty reports whether no program is visible at all. Stores short-circuit
// to zero results; they never interpret an empty constraint as "everything".
func (v Visibility) IsEmpty() bool {
	return len(v.programs) == 0
}

// EffectiveRole computes the highest role the user holds across the given
// programs, restricted to programs inside this constraint.
func (v Visibility) EffectiveRole(programs []id.ProgramID) (scopeModel.Role, bool) {
	var effective scopeModel.Role
	found := false
	for _, p := range programs {
		if r, ok := v.programs[p]; ok {
			effective = scopeModel.Max(effective, r)
			found = true
		}
	}
	return effective, found
}

type ScopeResolver interface {
	Resolve(ctx context.Context, userID id.UserID) (*scopeModel.ScopeSet, error)
	BlockedClients(ctx context.Context, userID id.UserID) ([]id.ClientID, error)
}

type ProgramCatalog interface {
	List(ctx context.Context) ([]*programModel.Program, error)
	FindByID(ctx context.Context, programID id.ProgramID) (*programModel.Program, error)
}

// Boundary builds Visibility values and applies small-cell suppression.
type Boundary struct {
	scope    ScopeResolver
	programs ProgramCatalog
	// threshold is the small-cell suppression cut-off. Fixed server-side
	// configuration; no request parameter can change it.
	threshold int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(b *Boundary)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Boundary) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Boundary) {
		b.metrics = m
	}
}

// New constructs a Boundary with the given suppression threshold.
func New(scope ScopeResolver, programs ProgramCatalog, threshold int, opts ...Option) *Boundary {
	b := &Boundary{scope: scope, programs: programs, threshold: threshold, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// VisibilityFor builds the read constraint for ordinary listing, search and
// detail paths: the programs the user holds a role in (standard or
// confidential), minus blocked clients. A user with no program roles gets
// an empty constraint, even when they hold the administrative flag.
func (b *Boundary) VisibilityFor(ctx context.Context, userID id.UserID) (Visibility, error) {
	scope, err := b.scope.Resolve(ctx, userID)
	if err != nil {
		return Visibility{}, err
	}
	blocked, err := b.scope.BlockedClients(ctx, userID)
	if err != nil {
		return Visibility{}, err
	}
	return Visibility{
		userID:   userID,
		programs: scope.ProgramRoles(),
		blocked:  toBlockedSet(blocked),
	}, nil
}

// MatchPoolFor builds the candidate-pool constraint for duplicate matching:
// every standard program agency-wide, regardless of the requesting user's
// own roles, minus the user's blocked clients. Confidential programs are
// excluded before any candidate is ranked, so a confidential enrolment can
// never leak through a match result.
func (b *Boundary) MatchPoolFor(ctx context.Context, userID id.UserID) (Visibility, error) {
	programs, err := b.programs.List(ctx)
	if err != nil {
		return Visibility{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load program catalog")
	}
	blocked, err := b.scope.BlockedClients(ctx, userID)
	if err != nil {
		return Visibility{}, err
	}

	pool := make(map[id.ProgramID]scopeModel.Role)
	for _, p := range programs {
		if !p.IsConfidential() {
			pool[p.ID] = scopeModel.RoleFrontDesk
		}
	}
	return Visibility{
		userID:   userID,
		programs: pool,
		blocked:  toBlockedSet(blocked),
	}, nil
}

// SuppressCount applies small-cell suppression: counts below the threshold
// are rendered as the sentinel ("< 10" at the default threshold), never the
// exact number, for every caller including administrators and for both
// standard and confidential programs.
func (b *Boundary) SuppressCount(n int) ProgramCount {
	if n < b.threshold {
		b.metrics.IncrementSuppressedCounts()
		return ProgramCount{display: fmt.Sprintf("< %d", b.threshold), suppressed: true}
	}
	return ProgramCount{display: fmt.Sprintf("%d", n), exact: n}
}

func toBlockedSet(blocked []id.ClientID) map[id.ClientID]struct{} {
	set := make(map[id.ClientID]struct{}, len(blocked))
	for _, c := range blocked {
		set[c] = struct{}{}
	}
	return set
}
