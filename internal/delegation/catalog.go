// Package delegation turns assign_task tool invocations into isolated
// sub-agent runs: catalog lookup, policy, depth tracking, background
// sessions, and result polling.
package delegation

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// AgentDefinition describes one specialist agent in the catalog.
type AgentDefinition struct {
	// ID is the name the model uses in assign_task.
	ID string `yaml:"id"`

	// Name is the human-readable agent name.
	Name string `yaml:"name"`

	// Type groups agents by specialty (e.g. "research", "coding").
	Type string `yaml:"type"`

	// Description tells the delegating model what this agent is for.
	Description string `yaml:"description"`

	// PromptTemplate is the child system prompt. The placeholders
	// {{task}} and {{description}} are substituted at delegation time;
	// environment facts are appended after rendering.
	PromptTemplate string `yaml:"prompt_template"`

	// Tools restricts the child's tool set. Empty means all tools.
	Tools []string `yaml:"tools,omitempty"`

	Provider    string  `yaml:"provider,omitempty"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	TopP        float64 `yaml:"top_p,omitempty"`
}

// Catalog is the set of delegatable agents, loaded once at startup and read
// concurrently afterwards.
type Catalog struct {
	mu     sync.RWMutex
	agents map[string]*AgentDefinition
}

// NewCatalog creates a catalog from the given definitions. Definitions
// without an ID are rejected.
func NewCatalog(defs []*AgentDefinition) (*Catalog, error) {
	agents := make(map[string]*AgentDefinition, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, fmt.Errorf("agent definition %q has no id", def.Name)
		}
		if def.Model == "" {
			return nil, fmt.Errorf("agent definition %q has no model", def.ID)
		}
		agents[def.ID] = def
	}
	return &Catalog{agents: agents}, nil
}

// catalogFile is the on-disk YAML shape.
type catalogFile struct {
	Agents []*AgentDefinition `yaml:"agents"`
}

// LoadCatalog reads a YAML agent catalog from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing agent catalog: %w", err)
	}
	return NewCatalog(file.Agents)
}

// Get returns the definition for an agent id.
func (c *Catalog) Get(id string) (*AgentDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.agents[id]
	return def, ok
}

// List returns all definitions sorted by id.
func (c *Catalog) List() []*AgentDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	defs := make([]*AgentDefinition, 0, len(c.agents))
	for _, def := range c.agents {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// IDs returns all agent ids sorted.
func (c *Catalog) IDs() []string {
	defs := c.List()
	ids := make([]string, 0, len(defs))
	for _, def := range defs {
		ids = append(ids, def.ID)
	}
	return ids
}
