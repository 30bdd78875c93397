package agent

// ExecContext carries per-run facts into tool executions. The engine hands
// each tool a per-invocation copy with ToolCallID filled in; the delegation
// tools read depth and policy from it.
type ExecContext struct {
	// ConversationID identifies the owning conversation.
	ConversationID string

	// MessageID is the assistant message whose tool calls are being run.
	MessageID string

	// ToolCallID is the id of the tool call currently executing. The
	// engine sets it on a per-invocation copy before invoking the tool;
	// it is empty outside tool execution.
	ToolCallID string

	// SessionID identifies the run; sub-agent runs get their own.
	SessionID string

	// AgentID is the identity of the agent issuing the calls.
	AgentID string

	// DelegationDepth is the count of nested sub-agent spawns above this
	// run. Zero for the root conversation.
	DelegationDepth int

	// EnabledAgents is the delegation policy map. Agents are enabled
	// unless explicitly set to false.
	EnabledAgents map[string]bool

	// WorkingDir is the working directory injected into specialist
	// prompts.
	WorkingDir string
}

// Child returns a copy of the context for a delegated sub-agent run, with
// the depth incremented and the session identity replaced.
func (c *ExecContext) Child(sessionID, agentID string) *ExecContext {
	child := *c
	child.SessionID = sessionID
	child.AgentID = agentID
	child.DelegationDepth = c.DelegationDepth + 1
	child.MessageID = ""
	child.ToolCallID = ""
	return &child
}

// AgentEnabled reports whether delegation to the named agent is permitted.
// Agents are enabled by default; only an explicit false disables one.
func (c *ExecContext) AgentEnabled(agentID string) bool {
	if c == nil || c.EnabledAgents == nil {
		return true
	}
	enabled, ok := c.EnabledAgents[agentID]
	if !ok {
		return true
	}
	return enabled
}
