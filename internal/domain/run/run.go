// Package run defines the Run domain entity: one model invocation together
// with its validated request, derived status and result snapshot.
package run

import (
	"time"

	"github.com/Strob0t/RunForge/internal/domain/delegation"
	"github.com/Strob0t/RunForge/internal/domain/safety"
)

// Status represents the current state of a run.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusIncomplete Status = "incomplete"
)

// Terminal reports whether the status ends a run's lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusIncomplete:
		return true
	}
	return false
}

// Metadata keys with well-known meaning across the control plane.
const (
	MetaTenantID    = "tenant_id"
	MetaRegion      = "region"
	MetaRetriedFrom = "retried_from"
)

// Record represents a single run with its full lifecycle state. The archive
// exclusively owns records; everything else reads them.
type Record struct {
	RunID          string              `json:"run_id"`
	Request        Request             `json:"request"`
	ConversationID string              `json:"conversation_id,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
	Status         Status              `json:"status"`
	TraceID        string              `json:"trace_id,omitempty"`
	Result         *Result             `json:"result,omitempty"`
	Safety         *safety.Snapshot    `json:"safety,omitempty"`
	Delegations    []delegation.Record `json:"delegations,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// TenantID returns the tenant recorded in metadata, or "default".
func (r *Record) TenantID() string {
	if r.Metadata != nil {
		if t := r.Metadata[MetaTenantID]; t != "" {
			return t
		}
		if t := r.Metadata["tenantId"]; t != "" {
			return t
		}
	}
	return "default"
}

// Clone returns a deep copy safe to hand outside the archive.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.Result != nil {
		res := r.Result.Clone()
		cp.Result = &res
	}
	if r.Safety != nil {
		s := r.Safety.Clone()
		cp.Safety = &s
	}
	if r.Delegations != nil {
		cp.Delegations = make([]delegation.Record, len(r.Delegations))
		copy(cp.Delegations, r.Delegations)
	}
	cp.Request = r.Request.Clone()
	return &cp
}
