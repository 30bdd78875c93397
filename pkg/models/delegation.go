package models

// DelegationKind tags the outcome of one delegation, decided at the point
// the outcome originates. Consumers branch on the kind, never on error
// message text.
type DelegationKind string

const (
	DelegationOK             DelegationKind = "ok"
	DelegationNotFound       DelegationKind = "not_found"
	DelegationPolicyDenied   DelegationKind = "policy_denied"
	DelegationInvalidInput   DelegationKind = "invalid_input"
	DelegationDepthExceeded  DelegationKind = "depth_exceeded"
	DelegationExecutionError DelegationKind = "execution_error"
)

// DelegationResult is the terminal outcome of one delegation, formatted
// into the parent's tool-result text.
type DelegationResult struct {
	Kind     DelegationKind `json:"kind"`
	Success  bool           `json:"success"`
	Summary  string         `json:"summary,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Error    string         `json:"error,omitempty"`

	// SessionID is set for background delegations so the caller can poll
	// with task_output.
	SessionID string `json:"session_id,omitempty"`
}
