// Package service produces aggregate reports. Counts are gathered per
// program under the caller's visibility and pass through small-cell
// suppression before they leave the service; no report path returns a raw
// count.
package service

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"caseguard/internal/boundary"
	programModel "caseguard/internal/program/models"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
)

type ClientCounter interface {
	CountByProgram(ctx context.Context, programID id.ProgramID) (int, error)
}

type BoundaryResolver interface {
	VisibilityFor(ctx context.Context, userID id.UserID) (boundary.Visibility, error)
	SuppressCount(n int) boundary.ProgramCount
}

type ProgramCatalog interface {
	FindByID(ctx context.Context, programID id.ProgramID) (*programModel.Program, error)
}

// ProgramCount is one row of the program-counts report.
type ProgramCount struct {
	ProgramID   id.ProgramID          `json:"program_id"`
	ProgramName string                `json:"program_name"`
	ClientCount boundary.ProgramCount `json:"client_count"`
}

// Service assembles reports over the client population.
type Service struct {
	clients  ClientCounter
	boundary BoundaryResolver
	programs ProgramCatalog
	logger   *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(clients ClientCounter, bnd BoundaryResolver, programs ProgramCatalog, opts ...Option) *Service {
	s := &Service{clients: clients, boundary: bnd, programs: programs, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProgramCounts returns enrolment counts for every program the caller holds
// a role in, confidential ones included. Each count is suppressed below the
// threshold regardless of the caller's role or the administrative flag.
func (s *Service) ProgramCounts(ctx context.Context, userID id.UserID) ([]ProgramCount, error) {
	vis, err := s.boundary.VisibilityFor(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve access scope")
	}

	programIDs := vis.ProgramIDs()
	rows := make([]ProgramCount, len(programIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, programID := range programIDs {
		g.Go(func() error {
			p, err := s.programs.FindByID(gctx, programID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load program")
			}
			n, err := s.clients.CountByProgram(gctx, programID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count enrolments")
			}
			rows[i] = ProgramCount{
				ProgramID:   programID,
				ProgramName: p.Name,
				ClientCount: s.boundary.SuppressCount(n),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].ProgramName < rows[j].ProgramName })
	return rows, nil
}
