// Package delegation defines tool-call delegation records: the request and
// completion halves of a tool call the model asked for during a run.
package delegation

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a delegation. A delegation transitions
// requested -> (completed | failed) at most once.
type Status string

const (
	StatusRequested Status = "requested"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record correlates the request/completion pair of a single tool call.
// CallID is unique within a run.
type Record struct {
	CallID      string          `json:"call_id"`
	ToolName    string          `json:"tool_name"`
	Status      Status          `json:"status"`
	Arguments   any             `json:"arguments,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Update carries the completion half applied onto an existing record.
type Update struct {
	Status      Status          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}
