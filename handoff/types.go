package handoff

import (
	"context"
	"time"
)

// Kind identifies what a handoff transfers between agents.
type Kind string

const (
	KindContextTransfer   Kind = "context_transfer"
	KindTaskDelegation    Kind = "task_delegation"
	KindStateSync         Kind = "state_sync"
	KindKnowledgeShare    Kind = "knowledge_share"
	KindCollaborativeWork Kind = "collaborative_work"
)

// Kinds lists every handoff kind.
func Kinds() []Kind {
	return []Kind{
		KindContextTransfer,
		KindTaskDelegation,
		KindStateSync,
		KindKnowledgeShare,
		KindCollaborativeWork,
	}
}

// Valid reports whether the kind is one of the known variants.
func (k Kind) Valid() bool {
	switch k {
	case KindContextTransfer, KindTaskDelegation, KindStateSync,
		KindKnowledgeShare, KindCollaborativeWork:
		return true
	default:
		return false
	}
}

// Status represents the state of a handoff.
type Status string

const (
	StatusInitiated    Status = "initiated"
	StatusCoordinating Status = "coordinating"
	StatusTransferring Status = "transferring"
	StatusValidating   Status = "validating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusRolledBack   Status = "rolled_back"
)

// IsTerminal returns true for statuses with no further transition.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusRolledBack:
		return true
	default:
		return false
	}
}

// DefaultTimeout is the per-handoff budget when the request does not carry
// one.
const DefaultTimeout = 30 * time.Second

// Request describes one handoff between two registered agents.
type Request struct {
	// ID is the unique request identifier; generated when empty
	ID string `json:"id"`

	// Kind is the handoff kind
	Kind Kind `json:"kind"`

	// SenderID and ReceiverID name the participating agents
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	// Payload is the opaque data being handed off
	Payload map[string]any `json:"payload,omitempty"`

	// Priority ranges 1 (lowest) to 10 (highest); clamped on initiation
	Priority int `json:"priority"`

	// Timeout is the budget for the whole protocol run
	Timeout time.Duration `json:"timeout,omitempty"`

	// RequiresAck makes the acknowledgment phase mandatory
	RequiresAck bool `json:"requires_ack"`

	// RollbackData is optional state the agents may need to undo a transfer
	RollbackData map[string]any `json:"rollback_data,omitempty"`
}

// Response is the outcome of one handoff protocol run. Callers inspect the
// terminal Status and Error; the protocol itself never panics or returns a
// Go error for handoff-level failures.
type Response struct {
	// RequestID echoes the request
	RequestID string `json:"request_id"`

	// Status is the final handoff status
	Status Status `json:"status"`

	// Error describes the failure for FAILED and ROLLED_BACK outcomes
	Error string `json:"error,omitempty"`

	// Warnings carries non-fatal notes (capability mismatches, rule warnings)
	Warnings []string `json:"warnings,omitempty"`

	// ValidationPassed is false when any validation rule reported an error
	ValidationPassed bool `json:"validation_passed"`

	// ValidationErrors and ValidationWarnings aggregate rule results in
	// registration order
	ValidationErrors   []string `json:"validation_errors,omitempty"`
	ValidationWarnings []string `json:"validation_warnings,omitempty"`

	// TransferResult is the merged sender/receiver transfer output
	TransferResult map[string]any `json:"transfer_result,omitempty"`

	// AckData is the receiver's acknowledgment payload, if any
	AckData map[string]any `json:"ack_data,omitempty"`

	// DurationMs is the wall time of the protocol run
	DurationMs int64 `json:"duration_ms"`
}

// AgentRegistration is the coordinator's record of a named agent. It is
// owned exclusively by the coordinator; agents never mutate it directly.
type AgentRegistration struct {
	// ID is the agent's unique name
	ID string `json:"id"`

	// Capabilities advertises the handoff kinds the agent claims to handle.
	// Advertisement is informational, not enforced.
	Capabilities []string `json:"capabilities,omitempty"`

	// Ref is the opaque agent reference; optional protocol hooks are
	// discovered on it via interface assertion
	Ref any `json:"-"`

	// RegisteredAt is when the agent was (last) registered
	RegisteredAt time.Time `json:"registered_at"`
}

// HasCapability reports whether the agent advertises the given kind.
func (r *AgentRegistration) HasCapability(kind Kind) bool {
	for _, c := range r.Capabilities {
		if c == string(kind) {
			return true
		}
	}
	return false
}

// Optional agent hooks. Each is discovered by interface assertion on the
// registered agent reference and has a documented default when absent.

// SendPreparer readies the sender side before a transfer.
// Default: sender is considered ready.
type SendPreparer interface {
	PrepareHandoff(ctx context.Context, req *Request) error
}

// ReceivePreparer readies the receiver side before a transfer.
// Default: receiver is considered ready.
type ReceivePreparer interface {
	PrepareReceive(ctx context.Context, req *Request) error
}

// Sender pushes the payload out of the sending agent.
// Default: no-op; a basic transfer marker is recorded instead.
type Sender interface {
	SendHandoff(ctx context.Context, req *Request) (map[string]any, error)
}

// Receiver ingests the payload into the receiving agent.
// Default: no-op; a basic transfer marker is recorded instead.
type Receiver interface {
	ReceiveHandoff(ctx context.Context, req *Request) (map[string]any, error)
}

// Acknowledger confirms a completed transfer on the receiver side.
// Default: auto-acknowledge success. A negative or erroring acknowledgment
// triggers rollback.
type Acknowledger interface {
	AcknowledgeHandoff(ctx context.Context, req *Request, transfer map[string]any) (bool, error)
}

// Rollbacker undoes a partial transfer. Default: nothing to undo.
// Rollback errors are logged and never escalate.
type Rollbacker interface {
	RollbackHandoff(ctx context.Context, req *Request) error
}

// RuleResult is the outcome of one validation rule.
type RuleResult struct {
	Errors   []string
	Warnings []string
}

// ValidationRule inspects a request payload before transfer. Rules run in
// registration order; any error aborts the handoff before anything moves.
type ValidationRule func(req *Request) *RuleResult

// RequirePayloadKeys returns a rule that fails when any of the given keys is
// absent from the payload.
func RequirePayloadKeys(keys ...string) ValidationRule {
	return func(req *Request) *RuleResult {
		res := &RuleResult{}
		for _, key := range keys {
			if _, ok := req.Payload[key]; !ok {
				res.Errors = append(res.Errors, "missing required payload key: "+key)
			}
		}
		return res
	}
}

// WarnPayloadSizeAbove returns a rule that warns when the payload carries
// more than max entries.
func WarnPayloadSizeAbove(max int) ValidationRule {
	return func(req *Request) *RuleResult {
		res := &RuleResult{}
		if len(req.Payload) > max {
			res.Warnings = append(res.Warnings, "payload unusually large")
		}
		return res
	}
}
