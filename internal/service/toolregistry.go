package service

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Strob0t/RunForge/internal/domain"
	"github.com/Strob0t/RunForge/internal/domain/run"
)

// builtinTools is the set of provider-side tools accepted by name.
var builtinTools = map[string]struct{}{
	"web_search":       {},
	"file_search":      {},
	"code_interpreter": {},
	"computer":         {},
	"mcp":              {},
}

// FunctionTool registers a caller-defined function the model may delegate to.
type FunctionTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolSelection names which tools a run carries: provider built-ins first,
// then registered function tools in include order.
type ToolSelection struct {
	Builtin []string `json:"builtin,omitempty"`
	Include []string `json:"include,omitempty"`
}

// ToolRegistry holds registered function tools and builds the provider
// tool payload for a run.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]FunctionTool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]FunctionTool)}
}

// RegisterFunctionTool adds a function tool. Duplicate names conflict.
func (r *ToolRegistry) RegisterFunctionTool(tool FunctionTool) error {
	if tool.Name == "" {
		return fmt.Errorf("%w: tool name is required", domain.ErrInvalidRequest)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; ok {
		return fmt.Errorf("tool %q: %w", tool.Name, domain.ErrAlreadyExists)
	}
	r.tools[tool.Name] = tool
	return nil
}

// BuildToolPayload produces the ordered provider tool list: built-ins
// first, then function tools in include order.
func (r *ToolRegistry) BuildToolPayload(sel ToolSelection) ([]run.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]run.Tool, 0, len(sel.Builtin)+len(sel.Include))
	for _, name := range sel.Builtin {
		if _, ok := builtinTools[name]; !ok {
			return nil, fmt.Errorf("%w: unknown builtin tool %q", domain.ErrInvalidRequest, name)
		}
		out = append(out, run.Tool{Type: name})
	}
	for _, name := range sel.Include {
		tool, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool %q: %w", name, domain.ErrNotFound)
		}
		out = append(out, run.Tool{
			Type:        "function",
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return out, nil
}

// Has reports whether a function tool is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}
