package service

import (
	"context"
	"errors"
	"log/slog"

	"caseguard/internal/program/models"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/platform/audit"
	"caseguard/pkg/platform/sentinel"
	"caseguard/pkg/requestcontext"
)

type ProgramStore interface {
	CreateIfNameAvailable(ctx context.Context, program *models.Program) error
	FindByID(ctx context.Context, programID id.ProgramID) (*models.Program, error)
	List(ctx context.Context) ([]*models.Program, error)
	Execute(ctx context.Context, programID id.ProgramID, fn func(*models.Program) error) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service manages the program catalog. All operations here are
// configuration surfaces: they are admin-token guarded at the transport
// layer and never touch client data.
type Service struct {
	programs ProgramStore
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
func New(programs ProgramStore, auditor AuditPublisher, opts ...Option) *Service {
	s := &Service{programs: programs, auditor: auditor, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateProgram(ctx context.Context, name string, confidentiality models.Confidentiality) (*models.Program, error) {
	p, err := models.NewProgram(id.NewProgramID(), name, confidentiality, requestcontext.Now(ctx))
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}

	if err := s.programs.CreateIfNameAvailable(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "program name must be unique")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create program")
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventProgramCreated),
		ProgramID: p.ID,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "program created",
		"program_id", p.ID,
		"confidentiality", p.Confidentiality,
	)
	return p, nil
}

func (s *Service) GetProgram(ctx context.Context, programID id.ProgramID) (*models.Program, error) {
	p, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "program not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load program")
	}
	return p, nil
}

func (s *Service) ListPrograms(ctx context.Context) ([]*models.Program, error) {
	programs, err := s.programs.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list programs")
	}
	return programs, nil
}

// MarkConfidential upgrades a program to the confidential class. The
// transition is one-way; there is no downgrade operation.
func (s *Service) MarkConfidential(ctx context.Context, programID id.ProgramID) (*models.Program, error) {
	var updated *models.Program
	err := s.programs.Execute(ctx, programID, func(p *models.Program) error {
		if err := p.CanMarkConfidential(); err != nil {
			return err
		}
		p.ApplyConfidential(requestcontext.Now(ctx))
		updated = p
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "program not found")
		case dErrors.HasCode(err, dErrors.CodeConflict):
			return nil, err
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark program confidential")
		}
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:   requestcontext.UserID(ctx),
		Action:    string(audit.EventProgramMarkedConfidential),
		ProgramID: programID,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "program marked confidential", "program_id", programID)
	return updated, nil
}
