package delegation

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nuvin-ai/nuvin/internal/agent"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// SpecialistAgentFactory builds the ephemeral configuration for one
// delegated sub-agent run: rendered system prompt with injected environment
// facts, a fresh or resumed session identity, and the incremented depth.
type SpecialistAgentFactory struct {
	catalog    *Catalog
	registry   *SessionRegistry
	workingDir string
	platform   string
	now        func() time.Time
}

// NewSpecialistAgentFactory creates a factory. An empty workingDir omits
// the working-directory fact from child prompts.
func NewSpecialistAgentFactory(catalog *Catalog, registry *SessionRegistry, workingDir string) *SpecialistAgentFactory {
	return &SpecialistAgentFactory{
		catalog:    catalog,
		registry:   registry,
		workingDir: workingDir,
		platform:   runtime.GOOS,
		now:        time.Now,
	}
}

// Build produces the child config for one delegation. With a resumable
// session id, the session identity is reused and the stored transcript is
// loaded as previousMessages; otherwise a fresh session id is allocated.
// Depth is always parent+1; the depth cap is enforced by the service before
// Build is called.
func (f *SpecialistAgentFactory) Build(def *AgentDefinition, params DelegateParams, execCtx *agent.ExecContext) *models.SpecialistAgentConfig {
	cfg := &models.SpecialistAgentConfig{
		AgentID:         def.ID,
		AgentName:       def.Name,
		AgentType:       def.Type,
		TaskDescription: params.Task,
		SystemPrompt:    f.renderPrompt(def, params),
		Tools:           def.Tools,
		Provider:        def.Provider,
		Model:           def.Model,
		Temperature:     def.Temperature,
		MaxTokens:       def.MaxTokens,
		TopP:            def.TopP,
		DelegationDepth: execCtx.DelegationDepth + 1,
		ConversationID:  execCtx.ConversationID,
		MessageID:       execCtx.MessageID,
		ToolCallID:      execCtx.ToolCallID,
	}

	if params.Resume != "" && f.registry != nil {
		if session, ok := f.registry.Get(params.Resume); ok {
			cfg.SessionID = session.ID
			cfg.ResumeSessionID = session.ID
			cfg.PreviousMessages = session.Messages()
			return cfg
		}
	}
	cfg.SessionID = uuid.NewString()
	return cfg
}

// renderPrompt substitutes the task placeholders in the template and
// appends the environment facts the child needs to ground its work.
func (f *SpecialistAgentFactory) renderPrompt(def *AgentDefinition, params DelegateParams) string {
	prompt := strings.NewReplacer(
		"{{task}}", params.Task,
		"{{description}}", params.Description,
	).Replace(def.PromptTemplate)

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n## Environment\n")
	fmt.Fprintf(&b, "- Current date: %s\n", f.now().Format("2006-01-02"))
	fmt.Fprintf(&b, "- Platform: %s\n", f.platform)
	if f.workingDir != "" {
		fmt.Fprintf(&b, "- Working directory: %s\n", f.workingDir)
	}
	if peers := f.peerList(def.ID); len(peers) > 0 {
		fmt.Fprintf(&b, "- Peer agents available via assign_task: %s\n", strings.Join(peers, ", "))
	}
	if !strings.Contains(def.PromptTemplate, "{{task}}") {
		fmt.Fprintf(&b, "\n## Task\n%s\n", params.Task)
	}
	return b.String()
}

func (f *SpecialistAgentFactory) peerList(selfID string) []string {
	if f.catalog == nil {
		return nil
	}
	var peers []string
	for _, id := range f.catalog.IDs() {
		if id != selfID {
			peers = append(peers, id)
		}
	}
	return peers
}

// AgentConfig converts the specialist config into the generic agent config
// consumed by the runner.
func (f *SpecialistAgentFactory) AgentConfig(spec *models.SpecialistAgentConfig) *models.AgentConfig {
	return &models.AgentConfig{
		ID:           spec.AgentID,
		Model:        spec.Model,
		SystemPrompt: spec.SystemPrompt,
		Temperature:  spec.Temperature,
		TopP:         spec.TopP,
		EnabledTools: spec.Tools,
	}
}
