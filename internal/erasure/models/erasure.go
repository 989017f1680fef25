// Package models defines the erasure request state machine. An erasure
// request governs the only destructive operation in the system; everything
// here is built so that destruction cannot happen without the full approval
// trail, and so that the approval requirements cannot drift after creation.
package models

import (
	"sort"
	"time"

	id "caseguard/pkg/domain"
	dErrors "caseguard/pkg/domain-errors"
)

// Status is the lifecycle state of an erasure request.
//
//	pending    -> approved   (every required program approved)
//	pending    -> rejected   (terminal, any single rejection)
//	deadlocked -> approved | rejected
//
// A request is born deadlocked when any required program has no eligible
// approver. Deadlock is per program: the flagged programs take an admin
// fallback approval in place of a manager's, while every other program keeps
// its normal approve/reject path. Approval still requires a decision from
// every required program, and execution follows approval.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDeadlocked Status = "deadlocked"
)

// Decision is a recorded approval-or-rejection.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Approval is one recorded decision on a request.
type Approval struct {
	ProgramID  id.ProgramID `json:"program_id"`
	ApproverID id.UserID    `json:"approver_id"`
	Decision   Decision     `json:"decision"`
	Note       string       `json:"note,omitempty"`
	// Fallback marks an administrator decision taken on a deadlocked
	// program, outside the frozen approver sets.
	Fallback  bool      `json:"fallback,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// ErasureRequest is the governance record for destroying one client file.
//
// ProgramsRequired is frozen at creation: it maps each program the client
// was enrolled in at request time to the approvers who were then eligible
// (that program's managers, minus the requester). Role changes after
// creation never add or remove required approvals.
type ErasureRequest struct {
	ID          id.ErasureRequestID
	ClientID    id.ClientID
	RequestedBy id.UserID
	Reason      string
	Status      Status

	ProgramsRequired map[id.ProgramID][]id.UserID
	Approvals        []Approval

	// DataSummary is the zero-PII record count frozen immediately before
	// execution. It survives the erasure as the only description of what
	// was destroyed.
	DataSummary map[string]int

	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExecutedAt *time.Time
}

// NewErasureRequest builds a request with its approval requirements frozen.
// managersByProgram carries the client's enrolled programs and each one's
// current managers; the requester is removed from every eligible set. A
// program left with no eligible approver is deadlocked (its approval can
// only come from an admin fallback) and the request is born deadlocked.
func NewErasureRequest(requestID id.ErasureRequestID, clientID id.ClientID, requestedBy id.UserID, reason string, managersByProgram map[id.ProgramID][]id.UserID, now time.Time) (*ErasureRequest, error) {
	if len(managersByProgram) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "client has no program enrolments to erase")
	}

	required := make(map[id.ProgramID][]id.UserID, len(managersByProgram))
	deadlocked := false
	for programID, managers := range managersByProgram {
		eligible := make([]id.UserID, 0, len(managers))
		for _, m := range managers {
			if m != requestedBy {
				eligible = append(eligible, m)
			}
		}
		sort.Slice(eligible, func(i, j int) bool { return eligible[i].String() < eligible[j].String() })
		required[programID] = eligible
		if len(eligible) == 0 {
			deadlocked = true
		}
	}

	status := StatusPending
	if deadlocked {
		status = StatusDeadlocked
	}
	return &ErasureRequest{
		ID:               requestID,
		ClientID:         clientID,
		RequestedBy:      requestedBy,
		Reason:           reason,
		Status:           status,
		ProgramsRequired: required,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// RequiredProgramIDs returns the frozen program set in stable order.
func (r *ErasureRequest) RequiredProgramIDs() []id.ProgramID {
	out := make([]id.ProgramID, 0, len(r.ProgramsRequired))
	for p := range r.ProgramsRequired {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// DeadlockedPrograms returns the required programs whose frozen approver set
// is empty, in stable order. Only these may take a fallback approval.
func (r *ErasureRequest) DeadlockedPrograms() []id.ProgramID {
	var out []id.ProgramID
	for _, p := range r.RequiredProgramIDs() {
		if len(r.ProgramsRequired[p]) == 0 {
			out = append(out, p)
		}
	}
	return out
}

// ProgramDeadlocked reports whether the program's frozen approver set is
// empty.
func (r *ErasureRequest) ProgramDeadlocked(programID id.ProgramID) bool {
	approvers, required := r.ProgramsRequired[programID]
	return required && len(approvers) == 0
}

// EligibleApprover reports whether the user is in the frozen approver set
// for the program.
func (r *ErasureRequest) EligibleApprover(programID id.ProgramID, userID id.UserID) bool {
	for _, u := range r.ProgramsRequired[programID] {
		if u == userID {
			return true
		}
	}
	return false
}

// Participant reports whether the user appears anywhere on the request:
// requester or frozen approver of any program.
func (r *ErasureRequest) Participant(userID id.UserID) bool {
	if userID == r.RequestedBy {
		return true
	}
	for programID := range r.ProgramsRequired {
		if r.EligibleApprover(programID, userID) {
			return true
		}
	}
	return false
}

// DecisionFor returns the recorded decision for a program, if any. A
// fallback approval counts as that program's decision.
func (r *ErasureRequest) DecisionFor(programID id.ProgramID) *Approval {
	for i := range r.Approvals {
		if r.Approvals[i].ProgramID == programID {
			return &r.Approvals[i]
		}
	}
	return nil
}

// PendingPrograms returns required programs that have no decision yet.
func (r *ErasureRequest) PendingPrograms() []id.ProgramID {
	var out []id.ProgramID
	for _, p := range r.RequiredProgramIDs() {
		if r.DecisionFor(p) == nil {
			out = append(out, p)
		}
	}
	return out
}

// CanDecide validates an approve-or-reject from a program manager.
// Self-approval is an invariant violation rather than a mere denial: the
// requester was removed from every eligible set at creation, so reaching
// this path means a caller is forging approvals.
func (r *ErasureRequest) CanDecide(programID id.ProgramID, approverID id.UserID) error {
	// A deadlocked request still takes normal decisions on its non-deadlocked
	// programs; only approved and rejected are closed to managers.
	if r.Status != StatusPending && r.Status != StatusDeadlocked {
		return dErrors.Newf(dErrors.CodeConflict, "erasure request is %s", r.Status)
	}
	if approverID == r.RequestedBy {
		return dErrors.New(dErrors.CodeInvariantViolation, "requester cannot decide their own erasure request")
	}
	if _, required := r.ProgramsRequired[programID]; !required {
		return dErrors.New(dErrors.CodeValidation, "program is not part of this erasure request")
	}
	if !r.EligibleApprover(programID, approverID) {
		return dErrors.New(dErrors.CodeForbidden, "forbidden")
	}
	if r.DecisionFor(programID) != nil {
		return dErrors.New(dErrors.CodeConflict, "program has already decided")
	}
	return nil
}

// ApplyApproval records an approval. When every required program has an
// approval the request transitions to approved. Call CanDecide first.
func (r *ErasureRequest) ApplyApproval(programID id.ProgramID, approverID id.UserID, note string, now time.Time) {
	r.Approvals = append(r.Approvals, Approval{
		ProgramID:  programID,
		ApproverID: approverID,
		Decision:   DecisionApprove,
		Note:       note,
		DecidedAt:  now,
	})
	if len(r.PendingPrograms()) == 0 {
		r.Status = StatusApproved
	}
	r.UpdatedAt = now
}

// ApplyRejection records a rejection and terminates the request. One
// rejection is final regardless of how many approvals were already in.
func (r *ErasureRequest) ApplyRejection(programID id.ProgramID, approverID id.UserID, note string, now time.Time) {
	r.Approvals = append(r.Approvals, Approval{
		ProgramID:  programID,
		ApproverID: approverID,
		Decision:   DecisionReject,
		Note:       note,
		DecidedAt:  now,
	})
	r.Status = StatusRejected
	r.UpdatedAt = now
}

// CanFallbackApprove validates an administrator fallback for one program.
// Fallback stands in only for a deadlocked program's missing approver; every
// program with a live approver set keeps its normal path, and the normal
// completion rule still requires a decision from all of them.
func (r *ErasureRequest) CanFallbackApprove(programID id.ProgramID) error {
	if r.Status != StatusDeadlocked {
		return dErrors.Newf(dErrors.CodeConflict, "erasure request is %s, fallback applies only to deadlocked requests", r.Status)
	}
	if _, required := r.ProgramsRequired[programID]; !required {
		return dErrors.New(dErrors.CodeValidation, "program is not part of this erasure request")
	}
	if !r.ProgramDeadlocked(programID) {
		return dErrors.New(dErrors.CodeValidation, "program has eligible approvers, fallback does not apply")
	}
	if r.DecisionFor(programID) != nil {
		return dErrors.New(dErrors.CodeConflict, "program has already decided")
	}
	return nil
}

// ApplyFallbackApproval records the administrator decision for a deadlocked
// program. The request transitions to approved only when every required
// program, fallback or regular, has approved. Call CanFallbackApprove first.
func (r *ErasureRequest) ApplyFallbackApproval(programID id.ProgramID, adminID id.UserID, note string, now time.Time) {
	r.Approvals = append(r.Approvals, Approval{
		ProgramID:  programID,
		ApproverID: adminID,
		Decision:   DecisionApprove,
		Note:       note,
		Fallback:   true,
		DecidedAt:  now,
	})
	if len(r.PendingPrograms()) == 0 {
		r.Status = StatusApproved
	}
	r.UpdatedAt = now
}

// Executed reports whether destructive execution has completed.
func (r *ErasureRequest) Executed() bool {
	return r.ExecutedAt != nil
}

// CanExecute validates that destructive execution may start.
func (r *ErasureRequest) CanExecute() error {
	if r.Status != StatusApproved {
		return dErrors.Newf(dErrors.CodeConflict, "erasure request is %s, not approved", r.Status)
	}
	if r.Executed() {
		return dErrors.New(dErrors.CodeConflict, "erasure request already executed")
	}
	return nil
}

// ApplyExecution freezes the data summary, stamps completion, and nulls the
// client reference. The request row and its audit trail are all that remain.
func (r *ErasureRequest) ApplyExecution(summary map[string]int, now time.Time) {
	r.DataSummary = summary
	r.ExecutedAt = &now
	r.ClientID = id.ClientID{}
	r.UpdatedAt = now
}
