package delegation

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewCatalogValidation(t *testing.T) {
	if _, err := NewCatalog([]*AgentDefinition{{Name: "No ID", Model: "m"}}); err == nil {
		t.Error("expected error for definition without id")
	}
	if _, err := NewCatalog([]*AgentDefinition{{ID: "x"}}); err == nil {
		t.Error("expected error for definition without model")
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	data := `agents:
  - id: researcher
    name: Researcher
    type: research
    description: Looks things up
    prompt_template: "Task: {{task}}"
    model: gpt-4o-mini
    tools: [web_search]
  - id: coder
    name: Coder
    type: coding
    description: Writes code
    prompt_template: "You write code."
    model: gpt-4o
    temperature: 0.2
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	ids := catalog.IDs()
	if len(ids) != 2 || ids[0] != "coder" || ids[1] != "researcher" {
		t.Errorf("IDs = %v, want sorted [coder researcher]", ids)
	}

	def, ok := catalog.Get("researcher")
	if !ok {
		t.Fatal("Get(researcher) missing")
	}
	if def.Model != "gpt-4o-mini" || len(def.Tools) != 1 || def.Tools[0] != "web_search" {
		t.Errorf("definition = %+v", def)
	}

	if _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing catalog file")
	}
}
