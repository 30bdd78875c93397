package models

// AgentConfig describes one agent's LLM behavior. It is owned by its creator
// and passed by reference into the conversation runner; mutation happens
// only through an explicit config resolver callback, never implicitly.
type AgentConfig struct {
	ID           string   `json:"id"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt"`
	Temperature  float64  `json:"temperature"`
	TopP         float64  `json:"top_p"`
	EnabledTools []string `json:"enabled_tools,omitempty"`
}

// SpecialistAgentConfig is the ephemeral configuration for one delegated
// sub-agent run. It is created fresh per assign_task call, or rehydrated
// from persisted memory on resume, and discarded after an inline run
// completes. A background run's SessionID outlives the call that created it.
type SpecialistAgentConfig struct {
	AgentID          string     `json:"agent_id"`
	AgentName        string     `json:"agent_name"`
	AgentType        string     `json:"agent_type"`
	TaskDescription  string     `json:"task_description"`
	SystemPrompt     string     `json:"system_prompt"`
	Tools            []string   `json:"tools,omitempty"`
	Provider         string     `json:"provider"`
	Model            string     `json:"model"`
	Temperature      float64    `json:"temperature"`
	MaxTokens        int        `json:"max_tokens"`
	TopP             float64    `json:"top_p"`
	DelegationDepth  int        `json:"delegation_depth"`
	SessionID        string     `json:"session_id"`
	ResumeSessionID  string     `json:"resume_session_id,omitempty"`
	PreviousMessages []*Message `json:"previous_messages,omitempty"`
	ConversationID   string     `json:"conversation_id,omitempty"`
	MessageID        string     `json:"message_id,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
}

// Usage is the token accounting block returned by providers.
type Usage struct {
	PromptTokens            int            `json:"prompt_tokens"`
	CompletionTokens        int            `json:"completion_tokens"`
	TotalTokens             int            `json:"total_tokens"`
	PromptTokensDetails     map[string]int `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails map[string]int `json:"completion_tokens_details,omitempty"`
	Cost                    float64        `json:"cost,omitempty"`
}

// Add accumulates another usage block into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.Cost += other.Cost
}
