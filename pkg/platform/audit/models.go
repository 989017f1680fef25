package audit

import (
	"time"

	id "caseguard/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance.
	// These require tamper-proof storage and long retention.
	// Examples: erasure lifecycle, client creation, status changes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// Examples: fallback approvals, access-block changes, role changes.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers events useful for debugging and operational visibility.
	// These can be sampled or aggregated with shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// Events never carry decrypted identity fields; count maps are the only
// record-derived payload.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// ActorID is the user who performed the action.
	ActorID id.UserID
	Action  string
	// ClientID references the subject client file, if any. After erasure
	// execution this is the only remaining link to the destroyed record.
	ClientID  id.ClientID
	ProgramID id.ProgramID
	// ErasureRequestID links erasure lifecycle events.
	ErasureRequestID id.ErasureRequestID
	Decision         string
	Reason           string
	// RequestID is the correlation ID from the HTTP request context.
	RequestID string
	// Counts carries zero-PII record counts, e.g. the frozen data_summary
	// written before destructive execution.
	Counts map[string]int
	// DedupeKey makes an append idempotent: a second append with the same
	// key is a no-op. Erasure execution retries rely on this.
	DedupeKey string
}

type AuditEvent string

const (
	// Client file events
	EventClientCreated       AuditEvent = "client_created"
	EventClientStatusChanged AuditEvent = "client_status_changed"
	EventClientEnrolled      AuditEvent = "client_enrolled"
	EventClientWithdrawn     AuditEvent = "client_withdrawn"

	// Program events
	EventProgramCreated            AuditEvent = "program_created"
	EventProgramMarkedConfidential AuditEvent = "program_marked_confidential"

	// Scope events
	EventRoleAssigned      AuditEvent = "role_assigned"
	EventRoleRevoked       AuditEvent = "role_revoked"
	EventAccessBlockSet    AuditEvent = "access_block_set"
	EventAccessBlockLifted AuditEvent = "access_block_lifted"

	// Erasure governance events
	EventErasureRequested        AuditEvent = "erasure_requested"
	EventErasureApprovalRecorded AuditEvent = "erasure_approval_recorded"
	EventErasureRejected         AuditEvent = "erasure_rejected"
	EventErasureDeadlocked       AuditEvent = "erasure_deadlocked"
	EventErasureExecuted         AuditEvent = "erasure_executed"

	// EventErasureFallbackApproved is deliberately distinct from
	// EventErasureApprovalRecorded: fallback approvals bypass the normal
	// program-manager set and are audited in the security category.
	EventErasureFallbackApproved AuditEvent = "erasure_fallback_approved"
)

// eventCategories maps each audit event to its category.
// Compliance: legal/regulatory significance, long retention required.
// Security: security monitoring and alerting.
// Operations: debugging, operational visibility, can be sampled.
var eventCategories = map[AuditEvent]EventCategory{
	EventClientCreated:       CategoryCompliance,
	EventClientStatusChanged: CategoryCompliance,
	EventClientEnrolled:      CategoryCompliance,
	EventClientWithdrawn:     CategoryCompliance,

	EventErasureRequested:        CategoryCompliance,
	EventErasureApprovalRecorded: CategoryCompliance,
	EventErasureRejected:         CategoryCompliance,
	EventErasureExecuted:         CategoryCompliance,

	EventErasureDeadlocked:         CategorySecurity,
	EventErasureFallbackApproved:   CategorySecurity,
	EventRoleAssigned:              CategorySecurity,
	EventRoleRevoked:               CategorySecurity,
	EventAccessBlockSet:            CategorySecurity,
	EventAccessBlockLifted:         CategorySecurity,
	EventProgramMarkedConfidential: CategorySecurity,

	EventProgramCreated: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
