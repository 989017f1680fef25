package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"caseguard/internal/boundary"
	"caseguard/internal/client/models"
	"caseguard/internal/match"
	"caseguard/internal/platform/metrics"
	programModel "caseguard/internal/program/models"
	scopeModel "caseguard/internal/scope/models"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/fieldcrypt"
	"caseguard/pkg/platform/audit"
	"caseguard/pkg/platform/sentinel"
	"caseguard/pkg/requestcontext"
)

type ClientStore interface {
	Create(ctx context.Context, c *models.ClientFile) error
	FindVisible(ctx context.Context, vis boundary.Visibility, clientID id.ClientID) (*models.ClientFile, error)
	ListVisible(ctx context.Context, vis boundary.Visibility, limit, offset int) ([]*models.ClientFile, error)
	Execute(ctx context.Context, clientID id.ClientID, fn func(*models.ClientFile) error) error
}

type BoundaryResolver interface {
	VisibilityFor(ctx context.Context, userID id.UserID) (boundary.Visibility, error)
	MatchPoolFor(ctx context.Context, userID id.UserID) (boundary.Visibility, error)
}

type DuplicateMatcher interface {
	FindCandidates(ctx context.Context, pool boundary.Visibility, in match.Input) ([]match.Candidate, error)
}

type ProgramFinder interface {
	FindByID(ctx context.Context, programID id.ProgramID) (*programModel.Program, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Record is the decrypted read model handed to transport. Identity fields
// live only in this in-memory form; the store keeps the sealed blob.
type Record struct {
	ID         id.ClientID         `json:"id"`
	Identity   models.Identity     `json:"identity"`
	Status     models.ClientStatus `json:"status"`
	Enrolments []id.ProgramID      `json:"enrolments"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Service owns the client file lifecycle: creation with advisory duplicate
// matching, boundary-constrained reads, soft status changes, and enrolment
// management. It never mutates records outside the store's Execute callback,
// and it has no destructive operation at all; erasure lives elsewhere.
type Service struct {
	clients  ClientStore
	boundary BoundaryResolver
	matcher  DuplicateMatcher
	programs ProgramFinder
	codec    fieldcrypt.Codec
	auditor  AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(clients ClientStore, bnd BoundaryResolver, matcher DuplicateMatcher, programs ProgramFinder, codec fieldcrypt.Codec, auditor AuditPublisher, opts ...Option) *Service {
	s := &Service{
		clients:  clients,
		boundary: bnd,
		matcher:  matcher,
		programs: programs,
		codec:    codec,
		auditor:  auditor,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a client file in the given program. For standard programs
// the duplicate matcher runs first against the agency-wide standard pool;
// its candidates are advisory and never block the create. For confidential
// programs the matcher is skipped entirely.
func (s *Service) Create(ctx context.Context, programID id.ProgramID, identity models.Identity) (*Record, []match.Candidate, error) {
	userID := requestcontext.UserID(ctx)
	vis, err := s.boundary.VisibilityFor(ctx, userID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve access scope")
	}
	if !vis.AllowsProgram(programID) {
		return nil, nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}
	if err := identity.Validate(); err != nil {
		return nil, nil, err
	}

	program, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load program")
	}

	var candidates []match.Candidate
	if !program.IsConfidential() {
		pool, err := s.boundary.MatchPoolFor(ctx, userID)
		if err != nil {
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build match pool")
		}
		candidates, err = s.matcher.FindCandidates(ctx, pool, match.Input{
			FirstName: identity.FirstName,
			DOB:       identity.DOB,
			Phone:     identity.Phone,
		})
		if err != nil {
			// Matching is advisory; a matcher outage must not block intake.
			s.logger.WarnContext(ctx, "duplicate matching unavailable", "error", err.Error())
			candidates = nil
		}
	}

	sealed, err := s.seal(identity)
	if err != nil {
		return nil, nil, err
	}
	c := models.NewClientFile(
		id.NewClientID(),
		sealed,
		match.PhoneKey(identity.Phone),
		match.NameDOBKey(identity.FirstName, identity.DOB),
		programID,
		userID,
		requestcontext.Now(ctx),
	)
	if err := s.clients.Create(ctx, c); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create client")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   userID,
		Action:    string(audit.EventClientCreated),
		ClientID:  c.ID,
		ProgramID: programID,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, nil, err
	}

	s.metrics.IncrementClientsCreated()
	if len(candidates) > 0 {
		s.metrics.IncrementDuplicatesFlagged()
	}
	s.logger.InfoContext(ctx, "client created",
		"client_id", c.ID,
		"program_id", programID,
		"duplicate_candidates", len(candidates),
	)
	return s.toRecord(c, identity, c.Enrolments), candidates, nil
}

// Get returns a client the caller can see. Absence, a block, and a boundary
// exclusion are the same not-found.
func (s *Service) Get(ctx context.Context, clientID id.ClientID) (*Record, error) {
	vis, err := s.boundary.VisibilityFor(ctx, requestcontext.UserID(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve access scope")
	}
	c, err := s.clients.FindVisible(ctx, vis, clientID)
	if err != nil {
		return nil, s.readError(err)
	}
	return s.openRecord(ctx, vis, c)
}

// List returns a page of clients inside the caller's scope.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	vis, err := s.boundary.VisibilityFor(ctx, requestcontext.UserID(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve access scope")
	}
	clients, err := s.clients.ListVisible(ctx, vis, limit, offset)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list clients")
	}
	out := make([]*Record, 0, len(clients))
	for _, c := range clients {
		rec, err := s.openRecord(ctx, vis, c)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ChangeStatus performs a soft status transition. It requires direct-service
// standing or better in at least one of the client's programs; front-desk
// users can see a record without being able to move it.
func (s *Service) ChangeStatus(ctx context.Context, clientID id.ClientID, to models.ClientStatus) (*Record, error) {
	vis, c, err := s.visibleForWrite(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !atLeastDirectService(vis, c) {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}

	var updated *models.ClientFile
	err = s.clients.Execute(ctx, clientID, func(cf *models.ClientFile) error {
		if err := cf.CanChangeStatus(to); err != nil {
			return err
		}
		cf.ApplyStatus(to, requestcontext.Now(ctx))
		updated = cf
		return nil
	})
	if err != nil {
		return nil, s.writeError(err, "failed to change client status")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventClientStatusChanged),
		ClientID:  clientID,
		Decision:  string(to),
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "client status changed", "client_id", clientID, "status", to)
	return s.openRecord(ctx, vis, updated)
}

// Enrol adds the client to a program the caller holds a role in.
func (s *Service) Enrol(ctx context.Context, clientID id.ClientID, programID id.ProgramID) (*Record, error) {
	vis, _, err := s.visibleForWrite(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !vis.AllowsProgram(programID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}

	var updated *models.ClientFile
	err = s.clients.Execute(ctx, clientID, func(cf *models.ClientFile) error {
		if err := cf.CanEnrol(programID); err != nil {
			return err
		}
		cf.ApplyEnrol(programID, requestcontext.Now(ctx))
		updated = cf
		return nil
	})
	if err != nil {
		return nil, s.writeError(err, "failed to enrol client")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventClientEnrolled),
		ClientID:  clientID,
		ProgramID: programID,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "client enrolled", "client_id", clientID, "program_id", programID)
	return s.openRecord(ctx, vis, updated)
}

// Withdraw removes the client from a program the caller holds a role in. The
// last enrolment cannot be withdrawn.
func (s *Service) Withdraw(ctx context.Context, clientID id.ClientID, programID id.ProgramID) (*Record, error) {
	vis, _, err := s.visibleForWrite(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !vis.AllowsProgram(programID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}

	var updated *models.ClientFile
	err = s.clients.Execute(ctx, clientID, func(cf *models.ClientFile) error {
		if err := cf.CanWithdraw(programID); err != nil {
			return err
		}
		cf.ApplyWithdraw(programID, requestcontext.Now(ctx))
		updated = cf
		return nil
	})
	if err != nil {
		return nil, s.writeError(err, "failed to withdraw client")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventClientWithdrawn),
		ClientID:  clientID,
		ProgramID: programID,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "client withdrawn", "client_id", clientID, "program_id", programID)
	return s.openRecord(ctx, vis, updated)
}

// visibleForWrite resolves the caller's scope and checks the target through
// the visibility constraint before any mutation path runs, so a write against
// an invisible record fails with the same not-found as a read.
func (s *Service) visibleForWrite(ctx context.Context, clientID id.ClientID) (boundary.Visibility, *models.ClientFile, error) {
	vis, err := s.boundary.VisibilityFor(ctx, requestcontext.UserID(ctx))
	if err != nil {
		return boundary.Visibility{}, nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve access scope")
	}
	c, err := s.clients.FindVisible(ctx, vis, clientID)
	if err != nil {
		return boundary.Visibility{}, nil, s.readError(err)
	}
	return vis, c, nil
}

func atLeastDirectService(vis boundary.Visibility, c *models.ClientFile) bool {
	role, ok := vis.EffectiveRole(c.Enrolments)
	return ok && role.Rank() >= scopeModel.RoleDirectService.Rank()
}

func (s *Service) seal(identity models.Identity) ([]byte, error) {
	plaintext, err := json.Marshal(identity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode identity")
	}
	sealed, err := s.codec.Encrypt(plaintext)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal identity")
	}
	return sealed, nil
}

func (s *Service) openRecord(ctx context.Context, vis boundary.Visibility, c *models.ClientFile) (*Record, error) {
	plaintext, err := s.codec.Decrypt(c.Sealed)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open identity")
	}
	var identity models.Identity
	if err := json.Unmarshal(plaintext, &identity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to decode identity")
	}
	enrolments, err := s.visibleEnrolments(ctx, vis, c.Enrolments)
	if err != nil {
		return nil, err
	}
	return s.toRecord(c, identity, enrolments), nil
}

// visibleEnrolments hides confidential enrolments from viewers without a
// role in that program. A record reachable through a shared standard program
// must not reveal that the client is also in a confidential one.
func (s *Service) visibleEnrolments(ctx context.Context, vis boundary.Visibility, enrolments []id.ProgramID) ([]id.ProgramID, error) {
	out := make([]id.ProgramID, 0, len(enrolments))
	for _, programID := range enrolments {
		if vis.AllowsProgram(programID) {
			out = append(out, programID)
			continue
		}
		program, err := s.programs.FindByID(ctx, programID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load program")
		}
		if !program.IsConfidential() {
			out = append(out, programID)
		}
	}
	return out, nil
}

func (s *Service) toRecord(c *models.ClientFile, identity models.Identity, enrolments []id.ProgramID) *Record {
	return &Record{
		ID:         c.ID,
		Identity:   identity,
		Status:     c.Status,
		Enrolments: enrolments,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func (s *Service) readError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "client not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load client")
}

func (s *Service) writeError(err error, message string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "client not found")
	case dErrors.HasCode(err, dErrors.CodeConflict), dErrors.HasCode(err, dErrors.CodeValidation):
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, message)
	}
}
