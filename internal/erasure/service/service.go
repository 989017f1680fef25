// Package service orchestrates the erasure governance lifecycle: request
// creation with a frozen approver snapshot, unanimous per-program approval,
// single-rejection termination, administrator fallback on deadlock, and the
// exactly-once destructive execution sequence.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caseguard/internal/boundary"
	clientModel "caseguard/internal/client/models"
	"caseguard/internal/erasure/models"
	"caseguard/internal/notify"
	"caseguard/internal/platform/metrics"
	scopeModel "caseguard/internal/scope/models"
	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
	"caseguard/pkg/platform/audit"
	"caseguard/pkg/platform/sentinel"
	"caseguard/pkg/platform/tx"
	"caseguard/pkg/requestcontext"
)

type ErasureStore interface {
	Create(ctx context.Context, req *models.ErasureRequest) error
	FindByID(ctx context.Context, requestID id.ErasureRequestID) (*models.ErasureRequest, error)
	// Execute runs the callback under the request's row lock; the callback
	// context carries the transaction so client-store and audit writes made
	// inside it commit atomically with the request update.
	Execute(ctx context.Context, requestID id.ErasureRequestID, fn func(txCtx context.Context, req *models.ErasureRequest) error) error
}

type ClientStore interface {
	FindVisible(ctx context.Context, vis boundary.Visibility, clientID id.ClientID) (*clientModel.ClientFile, error)
	FindByID(ctx context.Context, clientID id.ClientID) (*clientModel.ClientFile, error)
	CascadeErase(ctx context.Context, clientID id.ClientID) (map[string]int, error)
}

type BoundaryResolver interface {
	VisibilityFor(ctx context.Context, userID id.UserID) (boundary.Visibility, error)
}

type ManagerDirectory interface {
	ProgramManagers(ctx context.Context, programID id.ProgramID) ([]id.UserID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
	Written(ctx context.Context, dedupeKey string) (bool, error)
}

// Service drives erasure requests from creation to execution.
type Service struct {
	requests ErasureStore
	clients  ClientStore
	boundary BoundaryResolver
	managers ManagerDirectory
	auditor  AuditPublisher
	notifier notify.Queue
	runner   tx.Runner
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

// WithTxRunner sets the transaction boundary Create uses to commit the
// request row and its creation audit events together. Production wiring
// passes the SQL runner; the default memory runner only serializes.
func WithTxRunner(r tx.Runner) Option {
	return func(s *Service) {
		s.runner = r
	}
}

// New constructs a Service.
func New(requests ErasureStore, clients ClientStore, bnd BoundaryResolver, managers ManagerDirectory, auditor AuditPublisher, notifier notify.Queue, opts ...Option) *Service {
	s := &Service{
		requests: requests,
		clients:  clients,
		boundary: bnd,
		managers: managers,
		auditor:  auditor,
		notifier: notifier,
		runner:   tx.NewMemoryRunner(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens an erasure request for a client the caller can see. The
// approval requirement covers every program the client is enrolled in,
// confidential ones included, and the eligible approver sets are frozen
// here: later role changes never alter who may decide.
func (s *Service) Create(ctx context.Context, clientID id.ClientID, reason string) (*models.ErasureRequest, error) {
	userID := requestcontext.UserID(ctx)
	vis, err := s.boundary.VisibilityFor(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve access scope")
	}
	c, err := s.clients.FindVisible(ctx, vis, clientID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "client not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load client")
	}
	if role, ok := vis.EffectiveRole(c.Enrolments); !ok || role.Rank() < scopeModel.RoleDirectService.Rank() {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}

	managersByProgram := make(map[id.ProgramID][]id.UserID, len(c.Enrolments))
	for _, programID := range c.Enrolments {
		managers, err := s.managers.ProgramManagers(ctx, programID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot program managers")
		}
		managersByProgram[programID] = managers
	}

	req, err := models.NewErasureRequest(id.NewErasureRequestID(), clientID, userID, reason, managersByProgram, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	// The request row and its creation audit events commit together. The
	// events go first so that an audit outage aborts before anything is
	// persisted and the caller can retry without leaving an orphaned request.
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.auditor.Emit(txCtx, audit.Event{
			ActorID:          userID,
			Action:           string(audit.EventErasureRequested),
			ClientID:         clientID,
			ErasureRequestID: req.ID,
			Reason:           reason,
			RequestID:        requestcontext.RequestID(ctx),
		}); err != nil {
			return err
		}
		if req.Status == models.StatusDeadlocked {
			if err := s.auditor.Emit(txCtx, audit.Event{
				ActorID:          userID,
				Action:           string(audit.EventErasureDeadlocked),
				ClientID:         clientID,
				ErasureRequestID: req.ID,
				RequestID:        requestcontext.RequestID(ctx),
			}); err != nil {
				return err
			}
		}
		if err := s.requests.Create(txCtx, req); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create erasure request")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementErasureRequests()
	s.notifyApprovers(ctx, req)
	s.logger.InfoContext(ctx, "erasure request created",
		"erasure_request_id", req.ID,
		"status", req.Status,
		"programs_required", len(req.ProgramsRequired),
	)
	return req, nil
}

// Get returns a request to its participants (requester, frozen approvers)
// and administrators. Everyone else gets the uniform not-found.
func (s *Service) Get(ctx context.Context, requestID id.ErasureRequestID) (*models.ErasureRequest, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, s.loadError(err)
	}
	if !req.Participant(requestcontext.UserID(ctx)) && !requestcontext.IsAdmin(ctx) {
		return nil, dErrors.New(dErrors.CodeNotFound, "erasure request not found")
	}
	return req, nil
}

// Approve records one program's approval. The caller that records the final
// approval also runs execution; a failed execution leaves the request
// approved for an idempotent retry.
func (s *Service) Approve(ctx context.Context, requestID id.ErasureRequestID, programID id.ProgramID, note string) (*models.ErasureRequest, error) {
	actor := requestcontext.UserID(ctx)
	becameFinal := false
	err := s.requests.Execute(ctx, requestID, func(_ context.Context, req *models.ErasureRequest) error {
		if err := req.CanDecide(programID, actor); err != nil {
			return err
		}
		req.ApplyApproval(programID, actor, note, requestcontext.Now(ctx))
		becameFinal = req.Status == models.StatusApproved
		return nil
	})
	if err != nil {
		return nil, s.decisionError(err)
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:          actor,
		Action:           string(audit.EventErasureApprovalRecorded),
		ErasureRequestID: requestID,
		ProgramID:        programID,
		Decision:         string(models.DecisionApprove),
		RequestID:        requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}

	if becameFinal {
		if err := s.execute(ctx, requestID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, requestID)
}

// Reject records a rejection. One rejection resolves the request; approvals
// already recorded do not soften it.
func (s *Service) Reject(ctx context.Context, requestID id.ErasureRequestID, programID id.ProgramID, note string) (*models.ErasureRequest, error) {
	actor := requestcontext.UserID(ctx)
	var requestedBy id.UserID
	err := s.requests.Execute(ctx, requestID, func(_ context.Context, req *models.ErasureRequest) error {
		if err := req.CanDecide(programID, actor); err != nil {
			return err
		}
		req.ApplyRejection(programID, actor, note, requestcontext.Now(ctx))
		requestedBy = req.RequestedBy
		return nil
	})
	if err != nil {
		return nil, s.decisionError(err)
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:          actor,
		Action:           string(audit.EventErasureRejected),
		ErasureRequestID: requestID,
		ProgramID:        programID,
		Decision:         string(models.DecisionReject),
		Reason:           note,
		RequestID:        requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}

	s.notifyResolved(ctx, requestID, requestedBy, "rejected")
	s.logger.InfoContext(ctx, "erasure request rejected", "erasure_request_id", requestID)
	return s.Get(ctx, requestID)
}

// FallbackApprove is the administrator path for a deadlocked program: it
// stands in for that one program's missing approver and nothing more. Every
// other required program still decides through its own managers, and the
// request approves only when all of them have. The decision is audited under
// its own event type so fallback approvals are always distinguishable from
// regular program-manager approvals.
func (s *Service) FallbackApprove(ctx context.Context, requestID id.ErasureRequestID, programID id.ProgramID, note string) (*models.ErasureRequest, error) {
	if !requestcontext.IsAdmin(ctx) {
		return nil, dErrors.New(dErrors.CodeForbidden, "forbidden")
	}
	actor := requestcontext.UserID(ctx)
	becameFinal := false
	err := s.requests.Execute(ctx, requestID, func(_ context.Context, req *models.ErasureRequest) error {
		if err := req.CanFallbackApprove(programID); err != nil {
			return err
		}
		req.ApplyFallbackApproval(programID, actor, note, requestcontext.Now(ctx))
		becameFinal = req.Status == models.StatusApproved
		return nil
	})
	if err != nil {
		return nil, s.decisionError(err)
	}

	if err := s.auditor.Emit(ctx, audit.Event{
		ActorID:          actor,
		Action:           string(audit.EventErasureFallbackApproved),
		ErasureRequestID: requestID,
		ProgramID:        programID,
		Decision:         string(models.DecisionApprove),
		Reason:           note,
		RequestID:        requestcontext.RequestID(ctx),
	}); err != nil {
		return nil, err
	}
	s.metrics.IncrementFallbackApprovals()

	if becameFinal {
		if err := s.execute(ctx, requestID); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, requestID)
}

// Retry re-runs execution for an approved request whose earlier execution
// failed, typically on audit sink recovery. Participants and administrators
// may call it; it is idempotent.
func (s *Service) Retry(ctx context.Context, requestID id.ErasureRequestID) (*models.ErasureRequest, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Executed() {
		return req, nil
	}
	if err := s.execute(ctx, requestID); err != nil {
		return nil, err
	}
	return s.Get(ctx, requestID)
}

// execute runs the destructive sequence under the request lock:
//
//  1. freeze the zero-PII data summary from the live record
//  2. write the durable audit event (dedupe-keyed; failure aborts and the
//     request stays approved)
//  3. cascade-delete the client record and everything derived from it
//  4. stamp execution and null the request's client reference
//
// In postgres all four happen in one transaction. A retry after a crash
// between audit commit and request stamp finds the client gone, confirms
// the audit record through its dedupe key, and completes the stamp.
func (s *Service) execute(ctx context.Context, requestID id.ErasureRequestID) error {
	var requestedBy id.UserID
	err := s.requests.Execute(ctx, requestID, func(txCtx context.Context, req *models.ErasureRequest) error {
		if req.Executed() {
			requestedBy = req.RequestedBy
			return nil
		}
		if err := req.CanExecute(); err != nil {
			return err
		}
		requestedBy = req.RequestedBy
		key := executionDedupeKey(req.ID)

		c, err := s.clients.FindByID(txCtx, req.ClientID)
		if err != nil {
			if !errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load client for erasure")
			}
			written, werr := s.auditor.Written(txCtx, key)
			if werr != nil {
				return werr
			}
			if !written {
				return dErrors.New(dErrors.CodeInvariantViolation, "client record missing without an execution audit record")
			}
			// Earlier attempt destroyed the data and committed the audit
			// record but crashed before stamping the request. Finish.
			req.ApplyExecution(req.DataSummary, requestcontext.Now(ctx))
			return nil
		}

		summary := dataSummary(c)
		if err := s.auditor.Emit(txCtx, audit.Event{
			ActorID:          requestcontext.UserID(ctx),
			Action:           string(audit.EventErasureExecuted),
			ClientID:         req.ClientID,
			ErasureRequestID: req.ID,
			Counts:           summary,
			DedupeKey:        key,
			RequestID:        requestcontext.RequestID(ctx),
		}); err != nil {
			return err
		}

		if _, err := s.clients.CascadeErase(txCtx, req.ClientID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "cascade erase failed")
		}
		req.ApplyExecution(summary, requestcontext.Now(ctx))
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "erasure execution did not complete",
			"erasure_request_id", requestID,
			"error", err.Error(),
		)
		return err
	}

	s.metrics.IncrementErasureExecutions()
	s.notifyResolved(ctx, requestID, requestedBy, "executed")
	s.logger.InfoContext(ctx, "erasure executed", "erasure_request_id", requestID)
	return nil
}

func dataSummary(c *clientModel.ClientFile) map[string]int {
	matchKeys := 0
	if c.PhoneKey != "" {
		matchKeys++
	}
	if c.NameDOBKey != "" {
		matchKeys++
	}
	return map[string]int{
		"client_files": 1,
		"enrolments":   len(c.Enrolments),
		"match_keys":   matchKeys,
	}
}

func executionDedupeKey(requestID id.ErasureRequestID) string {
	return fmt.Sprintf("erasure_executed:%s", requestID)
}

func (s *Service) notifyApprovers(ctx context.Context, req *models.ErasureRequest) {
	now := time.Now()
	seen := make(map[id.UserID]struct{})
	for _, programID := range req.RequiredProgramIDs() {
		for _, approver := range req.ProgramsRequired[programID] {
			if _, dup := seen[approver]; dup {
				continue
			}
			seen[approver] = struct{}{}
			s.enqueue(ctx, notify.Message{
				Type:             notify.TypeApprovalRequested,
				RecipientID:      approver,
				ErasureRequestID: req.ID,
				CreatedAt:        now,
			})
		}
	}
	if req.Status == models.StatusDeadlocked {
		s.enqueue(ctx, notify.Message{
			Type:             notify.TypeRequestDeadlocked,
			RecipientID:      req.RequestedBy,
			ErasureRequestID: req.ID,
			CreatedAt:        now,
		})
	}
}

func (s *Service) notifyResolved(ctx context.Context, requestID id.ErasureRequestID, requestedBy id.UserID, outcome string) {
	s.enqueue(ctx, notify.Message{
		Type:             notify.TypeRequestResolved,
		RecipientID:      requestedBy,
		ErasureRequestID: requestID,
		Outcome:          outcome,
		CreatedAt:        time.Now(),
	})
}

// enqueue is fire-and-forget: notification failure never surfaces to the
// governance flow.
func (s *Service) enqueue(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Enqueue(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "notification enqueue failed",
			"type", string(msg.Type),
			"error", err.Error(),
		)
	}
}

func (s *Service) loadError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "erasure request not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load erasure request")
}

func (s *Service) decisionError(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "erasure request not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "erasure decision failed")
}
