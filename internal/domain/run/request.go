package run

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/RunForge/internal/domain"
)

// Tool is one entry of the provider tool payload. Built-in tools carry only
// a type; function tools carry a name, description and JSON-schema parameters.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Request is the validated payload sent to the upstream provider.
type Request struct {
	Model              string            `json:"model"`
	Input              json.RawMessage   `json:"input"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Tools              []Tool            `json:"tools,omitempty"`
	ToolChoice         json.RawMessage   `json:"tool_choice,omitempty"`
	MaxToolCalls       int               `json:"max_tool_calls,omitempty"`
	Conversation       string            `json:"conversation,omitempty"`
	Store              *bool             `json:"store,omitempty"`
	PreviousResponseID string            `json:"previous_response_id,omitempty"`
	SafetyIdentifier   string            `json:"safety_identifier,omitempty"`
	Truncation         string            `json:"truncation,omitempty"`
}

// Validate checks the minimum contract the provider requires.
func (r *Request) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", domain.ErrInvalidRequest)
	}
	if len(r.Input) == 0 || string(r.Input) == "null" {
		return fmt.Errorf("%w: input is required", domain.ErrInvalidRequest)
	}
	if r.MaxToolCalls < 0 {
		return fmt.Errorf("%w: max_tool_calls must not be negative", domain.ErrInvalidRequest)
	}
	return nil
}

// Clone returns a deep copy of the request.
func (r Request) Clone() Request {
	cp := r
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.Tools != nil {
		cp.Tools = make([]Tool, len(r.Tools))
		copy(cp.Tools, r.Tools)
	}
	cp.Input = cloneRaw(r.Input)
	cp.ToolChoice = cloneRaw(r.ToolChoice)
	if r.Store != nil {
		v := *r.Store
		cp.Store = &v
	}
	return cp
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cp := make(json.RawMessage, len(raw))
	copy(cp, raw)
	return cp
}
