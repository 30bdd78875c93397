package agent

import (
	"sync"

	"github.com/nuvin-ai/nuvin/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion. Both are enforced
// by the conversion layer in every validation mode.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. Registration happens at construction time; executions only read.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewToolRegistry creates a new empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry by its name. An existing tool with
// the same name is replaced.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the names of all registered tools.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns wire-level definitions for the named tools. A nil or
// empty enabledNames selects every registered tool. Unknown names are
// skipped.
func (r *ToolRegistry) Definitions(enabledNames []string) []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(enabledNames) == 0 {
		defs := make([]models.ToolDefinition, 0, len(r.tools))
		for _, tool := range r.tools {
			defs = append(defs, Definition(tool))
		}
		return defs
	}

	defs := make([]models.ToolDefinition, 0, len(enabledNames))
	for _, name := range enabledNames {
		if tool, ok := r.tools[name]; ok {
			defs = append(defs, Definition(tool))
		}
	}
	return defs
}
