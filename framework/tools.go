package framework

import (
	"context"
	"fmt"
	"sync"
)

// Tool is a callable capability exposed to the model. Implementations usually
// proxy a tool advertised by a remote tool server; the input schema is passed
// to the model verbatim.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Call(ctx context.Context, args map[string]any) (*ToolResult, error)
}

// ToolResult is returned by every tool call. IsError marks results the tool
// itself reported as failures; they are still fed back to the model.
type ToolResult struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolSource is anything that can advertise tools, typically one tool-server
// connection.
type ToolSource interface {
	Label() string
	Tools(ctx context.Context) ([]Tool, error)
}

// ToolRegistry maintains tools in registration order.
type ToolRegistry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewToolRegistry builds a registry instance.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *ToolRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.order = append(r.order, tool.Name())
	return nil
}

// Get fetches a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// All returns all registered tools in registration order.
func (r *ToolRegistry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		res = append(res, r.tools[name])
	}
	return res
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// AggregateTools registers the tools of every source, one source at a time.
// A source that cannot list its tools, or a tool whose name is already taken,
// is reported in the returned errors and skipped.
func AggregateTools(ctx context.Context, sources []ToolSource) (*ToolRegistry, []error) {
	registry := NewToolRegistry()
	var errs []error
	for _, src := range sources {
		tools, err := src.Tools(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: list tools: %w", src.Label(), err))
			continue
		}
		for _, tool := range tools {
			if err := registry.Register(tool); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", src.Label(), err))
			}
		}
	}
	return registry, errs
}
