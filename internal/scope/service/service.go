package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	programModel "caseguard/internal/program/models"
	"caseguard/internal/scope/models"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/platform/audit"
	"caseguard/pkg/platform/sentinel"
	"caseguard/pkg/requestcontext"
)

type RoleStore interface {
	Assign(ctx context.Context, assignment *models.UserProgramRole) error
	Revoke(ctx context.Context, userID id.UserID, programID id.ProgramID, revokedAt time.Time) error
	ListActiveByUser(ctx context.Context, userID id.UserID) ([]*models.UserProgramRole, error)
	ListManagersByProgram(ctx context.Context, programID id.ProgramID) ([]id.UserID, error)
}

type BlockStore interface {
	Set(ctx context.Context, b *models.ClientAccessBlock) error
	Lift(ctx context.Context, userID id.UserID, clientID id.ClientID, liftedAt time.Time) error
	IsBlocked(ctx context.Context, userID id.UserID, clientID id.ClientID) (bool, error)
	ListBlockedClients(ctx context.Context, userID id.UserID) ([]id.ClientID, error)
}

type ProgramFinder interface {
	FindByID(ctx context.Context, programID id.ProgramID) (*programModel.Program, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the access scope resolver. Scope is always derived here from
// stored assignments; nothing upstream of this service may supply scope.
type Service struct {
	roles    RoleStore
	blocks   BlockStore
	programs ProgramFinder
	auditor  AuditPublisher
	logger   *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New constructs a Service.
func New(roles RoleStore, blocks BlockStore, programs ProgramFinder, auditor AuditPublisher, opts ...Option) *Service {
	s := &Service{roles: roles, blocks: blocks, programs: programs, auditor: auditor, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve projects the user's active role assignments into a ScopeSet.
// It runs on every client-data request, so it stays a single store read.
func (s *Service) Resolve(ctx context.Context, userID id.UserID) (*models.ScopeSet, error) {
	assignments, err := s.roles.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve scope")
	}
	return models.NewScopeSet(userID, assignments), nil
}

// IsBlocked reports whether a negative override suppresses all access for
// this user to this client. Checked before any positive grant.
func (s *Service) IsBlocked(ctx context.Context, userID id.UserID, clientID id.ClientID) (bool, error) {
	blocked, err := s.blocks.IsBlocked(ctx, userID, clientID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check access block")
	}
	return blocked, nil
}

// BlockedClients returns every client the user is blocked from, for
// subtraction from listings and candidate pools.
func (s *Service) BlockedClients(ctx context.Context, userID id.UserID) ([]id.ClientID, error) {
	blocked, err := s.blocks.ListBlockedClients(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list access blocks")
	}
	return blocked, nil
}

// ProgramManagers lists users holding an active program_manager role in the
// program. Erasure governance snapshots this set at request creation.
func (s *Service) ProgramManagers(ctx context.Context, programID id.ProgramID) ([]id.UserID, error) {
	managers, err := s.roles.ListManagersByProgram(ctx, programID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list program managers")
	}
	return managers, nil
}

// AssignRole grants a role in a program, replacing any existing assignment
// for the pair.
func (s *Service) AssignRole(ctx context.Context, userID id.UserID, programID id.ProgramID, role models.Role) (*models.UserProgramRole, error) {
	if !role.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown role %q", role)
	}
	if _, err := s.programs.FindByID(ctx, programID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "program not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load program")
	}

	assignment := &models.UserProgramRole{
		UserID:     userID,
		ProgramID:  programID,
		Role:       role,
		AssignedAt: requestcontext.Now(ctx),
		AssignedBy: requestcontext.UserID(ctx),
	}
	if err := s.roles.Assign(ctx, assignment); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to assign role")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventRoleAssigned),
		ProgramID: programID,
		Decision:  string(role),
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "role assigned",
		"user_id", userID,
		"program_id", programID,
		"role", role,
	)
	return assignment, nil
}

// RevokeRole removes the user's role in a program. Revoked assignments are
// treated as absent from the moment this returns.
func (s *Service) RevokeRole(ctx context.Context, userID id.UserID, programID id.ProgramID) error {
	if err := s.roles.Revoke(ctx, userID, programID, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "role assignment not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke role")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventRoleRevoked),
		ProgramID: programID,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "role revoked", "user_id", userID, "program_id", programID)
	return nil
}

// SetBlock records a negative override for (user, client).
func (s *Service) SetBlock(ctx context.Context, userID id.UserID, clientID id.ClientID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return dErrors.New(dErrors.CodeValidation, "block reason is required")
	}

	if err := s.blocks.Set(ctx, &models.ClientAccessBlock{
		UserID:    userID,
		ClientID:  clientID,
		Reason:    reason,
		CreatedAt: requestcontext.Now(ctx),
		CreatedBy: requestcontext.UserID(ctx),
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to set access block")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventAccessBlockSet),
		ClientID:  clientID,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "access block set", "user_id", userID, "client_id", clientID)
	return nil
}

// LiftBlock removes an active negative override.
func (s *Service) LiftBlock(ctx context.Context, userID id.UserID, clientID id.ClientID) error {
	if err := s.blocks.Lift(ctx, userID, clientID, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "access block not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lift access block")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventAccessBlockLifted),
		ClientID:  clientID,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "access block lifted", "user_id", userID, "client_id", clientID)
	return nil
}
