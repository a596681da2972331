package tools

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/go-go-golems/stromboli/pkg/inference/engine"
)

// ToolRegistry manages the tools available to a run.
type ToolRegistry interface {
	RegisterTool(name string, def ToolDefinition) error
	GetTool(name string) (*ToolDefinition, error)
	ListTools() []ToolDefinition
	UnregisterTool(name string) error
	HasTool(name string) bool

	Clone() ToolRegistry
}

// InMemoryToolRegistry is a thread-safe in-memory ToolRegistry.
type InMemoryToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolDefinition
	order []string
}

func NewInMemoryToolRegistry() *InMemoryToolRegistry {
	return &InMemoryToolRegistry{tools: map[string]ToolDefinition{}}
}

var _ ToolRegistry = (*InMemoryToolRegistry)(nil)

func (r *InMemoryToolRegistry) RegisterTool(name string, def ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if def.Name != "" && def.Name != name {
		return errors.Errorf("tool definition name (%s) does not match registry name (%s)", def.Name, name)
	}
	def.Name = name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = def
	return nil
}

func (r *InMemoryToolRegistry) GetTool(name string) (*ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, &ToolNotFoundError{Name: name}
	}
	cp := tool
	return &cp, nil
}

// ListTools returns the tools in registration order.
func (r *InMemoryToolRegistry) ListTools() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *InMemoryToolRegistry) UnregisterTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return &ToolNotFoundError{Name: name}
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *InMemoryToolRegistry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

func (r *InMemoryToolRegistry) Clone() ToolRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cloned := NewInMemoryToolRegistry()
	for name, tool := range r.tools {
		cloned.tools[name] = tool
	}
	cloned.order = append([]string(nil), r.order...)
	return cloned
}

// Declarations renders the model-facing declarations of every registered
// tool, in registration order.
func Declarations(r ToolRegistry) []engine.ToolDeclaration {
	if r == nil {
		return nil
	}
	tools := r.ListTools()
	out := make([]engine.ToolDeclaration, 0, len(tools))
	for i := range tools {
		out = append(out, tools[i].Declaration())
	}
	return out
}
