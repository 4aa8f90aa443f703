// Package incident defines operator-facing records of failed or incomplete
// runs. At most one open incident exists per run at any time.
package incident

import "time"

// Status of an incident.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Type distinguishes how the run ended.
type Type string

const (
	TypeFailed     Type = "failed"
	TypeIncomplete Type = "incomplete"
)

// Disposition records how an incident was closed.
type Disposition string

const (
	DispositionRetry     Disposition = "retry"
	DispositionDismissed Disposition = "dismissed"
	DispositionEscalated Disposition = "escalated"
	DispositionManual    Disposition = "manual"
)

// Resolution closes an incident.
type Resolution struct {
	ResolvedAt  time.Time   `json:"resolved_at"`
	ResolvedBy  string      `json:"resolved_by"`
	Notes       string      `json:"notes,omitempty"`
	Disposition Disposition `json:"disposition,omitempty"`
	LinkedRunID string      `json:"linked_run_id,omitempty"`
}

// Record is one incident. Metadata fields are merged in from later failure
// events while the incident stays open; they never overwrite what is set.
type Record struct {
	ID         string      `json:"id"`
	RunID      string      `json:"run_id"`
	Status     Status      `json:"status"`
	Type       Type        `json:"type"`
	Sequence   int64       `json:"sequence"`
	OccurredAt time.Time   `json:"occurred_at"`
	TenantID   string      `json:"tenant_id,omitempty"`
	Model      string      `json:"model,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
}
