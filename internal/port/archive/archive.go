// Package archive defines the port interface for the append-only run
// archive: run records, ordered event logs and the optional capabilities a
// backend may opt into.
package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Strob0t/RunForge/internal/domain/delegation"
	"github.com/Strob0t/RunForge/internal/domain/event"
	"github.com/Strob0t/RunForge/internal/domain/run"
	"github.com/Strob0t/RunForge/internal/domain/safety"
)

// StartInput opens a new run record.
type StartInput struct {
	RunID          string            `json:"run_id"`
	Request        run.Request       `json:"request"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	TraceID        string            `json:"trace_id,omitempty"`
	Safety         *safety.Snapshot  `json:"safety,omitempty"`
}

// EventInput appends one event. Sequence 0 means "last recorded + 1".
type EventInput struct {
	RunID      string          `json:"run_id"`
	Sequence   int64           `json:"sequence,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at,omitempty"`
}

// TimelineSnapshot is a run record together with a prefix of its events.
type TimelineSnapshot struct {
	Run    *run.Record    `json:"run"`
	Events []event.Record `json:"events"`
}

// RollbackTarget selects the truncation point. Exactly one of Sequence or
// ToolCallID must be set.
type RollbackTarget struct {
	Sequence   int64  `json:"sequence,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// SafetyUpdate mutates a run's safety snapshot.
type SafetyUpdate struct {
	HashedIdentifier string     `json:"hashed_identifier,omitempty"`
	AddRefusals      int        `json:"add_refusals,omitempty"`
	LastRefusalAt    *time.Time `json:"last_refusal_at,omitempty"`
}

// PruneResult reports what a prune pass touched.
type PruneResult struct {
	Deleted []string `json:"deleted,omitempty"`
	Moved   []string `json:"moved,omitempty"`
}

// Archive is the required interface every backend implements. The archive
// exclusively owns run records and their event logs.
type Archive interface {
	StartRun(ctx context.Context, in StartInput) (*run.Record, error)
	RecordEvent(ctx context.Context, in EventInput) (*event.Record, error)
	UpdateStatus(ctx context.Context, runID string, status run.Status, result *run.Result) (*run.Record, error)
	GetRun(ctx context.Context, runID string) (*run.Record, error)
	GetTimeline(ctx context.Context, runID string) ([]event.Record, error)
	ListRuns(ctx context.Context) ([]run.Record, error)
	DeleteRun(ctx context.Context, runID string) error
	SnapshotAt(ctx context.Context, runID string, sequence int64) (*TimelineSnapshot, error)
}

// Rollbackable backends can truncate a run's event log to a prefix and
// re-derive the run's status from the retained events.
type Rollbackable interface {
	Rollback(ctx context.Context, runID string, target RollbackTarget) (*TimelineSnapshot, error)
}

// Exportable backends serialize a run and its events to a gzipped JSON
// document and return the destination path.
type Exportable interface {
	ExportRun(ctx context.Context, runID string) (string, error)
}

// Prunable backends delete (or move to cold storage) runs whose UpdatedAt
// is older than the cutoff.
type Prunable interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time) (*PruneResult, error)
}

// SafetyAware backends persist refusal counters and hashed identifiers.
type SafetyAware interface {
	UpdateSafety(ctx context.Context, runID string, update SafetyUpdate) (*safety.Snapshot, error)
}

// ModerationAware backends persist moderator notes.
type ModerationAware interface {
	AddModeratorNote(ctx context.Context, runID string, note safety.ModeratorNote) (*safety.ModeratorNote, error)
}

// DelegationAware backends persist tool-call delegation records.
type DelegationAware interface {
	RecordDelegation(ctx context.Context, runID string, rec delegation.Record) error
	UpdateDelegation(ctx context.Context, runID string, callID string, update delegation.Update) error
}

// Capabilities reports which optional interfaces a backend implements.
// Callers probe once at construction instead of type-asserting per call.
type Capabilities struct {
	Rollback    Rollbackable
	Export      Exportable
	Prune       Prunable
	Safety      SafetyAware
	Moderation  ModerationAware
	Delegations DelegationAware
}

// Probe inspects a backend for its optional capabilities.
func Probe(a Archive) Capabilities {
	var c Capabilities
	if v, ok := a.(Rollbackable); ok {
		c.Rollback = v
	}
	if v, ok := a.(Exportable); ok {
		c.Export = v
	}
	if v, ok := a.(Prunable); ok {
		c.Prune = v
	}
	if v, ok := a.(SafetyAware); ok {
		c.Safety = v
	}
	if v, ok := a.(ModerationAware); ok {
		c.Moderation = v
	}
	if v, ok := a.(DelegationAware); ok {
		c.Delegations = v
	}
	return c
}
