package handoff

import (
	"context"
	"encoding/json"
	"time"
)

// AuditRecord is one entry in the append-only handoff history. Records are
// appended on every terminal outcome, success or not, and never affect
// control flow.
type AuditRecord struct {
	// ID is the unique record identifier
	ID string `json:"id"`

	// RequestID is the handoff this record describes
	RequestID string `json:"request_id"`

	// Kind is the handoff kind
	Kind Kind `json:"kind"`

	// SenderID and ReceiverID name the participants
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	// Status is the terminal handoff status
	Status Status `json:"status"`

	// Error is the failure description, if any
	Error string `json:"error,omitempty"`

	// PayloadBytes is the JSON-encoded payload size
	PayloadBytes int `json:"payload_bytes"`

	// StartedAt and CompletedAt bound the protocol run
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// DurationMs is the protocol wall time
	DurationMs int64 `json:"duration_ms"`
}

// AuditSink receives terminal audit records for durable storage. Appends
// are best-effort from the coordinator's point of view: sink errors are
// logged, never escalated.
type AuditSink interface {
	Append(ctx context.Context, rec *AuditRecord) error
}

// payloadSize returns the JSON-encoded size of a payload, or 0 when the
// payload cannot be encoded.
func payloadSize(payload map[string]any) int {
	if len(payload) == 0 {
		return 0
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(data)
}

// SystemMetrics is a read-only aggregation over the coordinator's audit
// history and registries.
type SystemMetrics struct {
	// TotalHandoffs counts terminal handoffs in the history
	TotalHandoffs int `json:"total_handoffs"`

	// ActiveHandoffs counts handoffs currently in flight
	ActiveHandoffs int `json:"active_handoffs"`

	// RegisteredAgents counts agents in the registry
	RegisteredAgents int `json:"registered_agents"`

	// AverageDurationMs is the mean protocol duration over the history
	AverageDurationMs float64 `json:"average_duration_ms"`

	// SuccessRate is completed handoffs over total, 0 when empty
	SuccessRate float64 `json:"success_rate"`

	// ValidationRuleCounts maps each kind to its registered rule count
	ValidationRuleCounts map[Kind]int `json:"validation_rule_counts"`
}
