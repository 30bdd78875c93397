package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nuvin-ai/nuvin/internal/llm"
	"github.com/nuvin-ai/nuvin/internal/observability"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// StopReason explains why a run terminated.
type StopReason string

const (
	// StopCompleted means the model produced a final response with no
	// tool calls.
	StopCompleted StopReason = "completed"

	// StopMaxIterations means the loop hit its iteration limit.
	StopMaxIterations StopReason = "max_iterations"

	// StopWallTime means the run exceeded its wall-clock budget.
	StopWallTime StopReason = "wall_time"
)

// RunnerConfig bounds a conversation run.
type RunnerConfig struct {
	// MaxIterations limits completion/tool round trips. Default: 24.
	MaxIterations int

	// MaxWallTime limits total run duration. Zero disables the limit.
	MaxWallTime time.Duration

	// MaxConcurrentTools is the tool batch size. Default: 4.
	MaxConcurrentTools int

	// MaxTokens is passed through to the provider. Default: 4096.
	MaxTokens int

	// ValidationMode controls schema enforcement during tool call
	// conversion. Default: lenient.
	ValidationMode ValidationMode
}

// DefaultRunnerConfig returns the default loop bounds.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxIterations:      24,
		MaxWallTime:        10 * time.Minute,
		MaxConcurrentTools: 4,
		MaxTokens:          4096,
		ValidationMode:     ModeLenient,
	}
}

// MessageStore persists conversation messages as the run appends them. A
// nil store keeps the transcript in memory only.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
}

// ConfigResolver is the single sanctioned mutation point for agent configs,
// applied once at run entry (e.g., a runtime model override).
type ConfigResolver func(*models.AgentConfig) *models.AgentConfig

// RunResult is the terminal outcome of one conversation run.
type RunResult struct {
	// Content is the model's final plain response.
	Content string

	// Messages is the full transcript including messages appended during
	// the run.
	Messages []*models.Message

	// Usage is the accumulated token usage across all completions.
	Usage models.Usage

	// ToolCallsExecuted counts tool invocations across all iterations.
	ToolCallsExecuted int

	// Iterations is the number of completion calls made.
	Iterations int

	// StopReason explains termination.
	StopReason StopReason

	// Duration is the wall-clock run time.
	Duration time.Duration
}

// AgentCommandRunner drives the conversation loop: generate a completion,
// convert and execute any tool calls, append the results, repeat until the
// model stops requesting tools or a bound is hit. The loop is iterative per
// conversation; only sub-agent spawns create additional runner executions,
// and those are capped by delegation depth.
type AgentCommandRunner struct {
	provider  llm.Port
	validator *ToolCallValidator
	engine    *ToolExecutionEngine
	registry  *ToolRegistry
	store     MessageStore
	resolver  ConfigResolver
	config    RunnerConfig
	logger    *observability.Logger
	tracer    *observability.Tracer
}

// RunnerOptions are the collaborators for a runner. Provider, validator,
// engine, and registry are required; the rest are optional.
type RunnerOptions struct {
	Provider  llm.Port
	Validator *ToolCallValidator
	Engine    *ToolExecutionEngine
	Registry  *ToolRegistry
	Store     MessageStore
	Resolver  ConfigResolver
	Config    RunnerConfig
	Logger    *observability.Logger
	Tracer    *observability.Tracer
}

// NewAgentCommandRunner creates a runner. Zero config fields get defaults.
func NewAgentCommandRunner(opts RunnerOptions) *AgentCommandRunner {
	config := opts.Config
	defaults := DefaultRunnerConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxConcurrentTools <= 0 {
		config.MaxConcurrentTools = defaults.MaxConcurrentTools
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	if config.ValidationMode == "" {
		config.ValidationMode = defaults.ValidationMode
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewToolRegistry()
	}
	validator := opts.Validator
	if validator == nil {
		validator = NewToolCallValidator(logger)
	}
	engine := opts.Engine
	if engine == nil {
		engine = NewToolExecutionEngine(registry, DefaultEngineConfig(), logger, nil)
	}
	return &AgentCommandRunner{
		provider:  opts.Provider,
		validator: validator,
		engine:    engine,
		registry:  registry,
		store:     opts.Store,
		resolver:  opts.Resolver,
		config:    config,
		logger:    logger,
		tracer:    opts.Tracer,
	}
}

// Run executes the loop over the given history until a terminal state. An
// already-cancelled context returns immediately without calling the LLM or
// any tool; for nested runs the abort error text is surfaced verbatim to
// the parent.
func (r *AgentCommandRunner) Run(ctx context.Context, cfg *models.AgentConfig, execCtx *ExecContext, history []*models.Message) (*RunResult, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}
	if execCtx == nil {
		execCtx = &ExecContext{}
	}
	if ctx.Err() != nil {
		return nil, r.abortError(execCtx)
	}
	if r.resolver != nil {
		cfg = r.resolver(cfg)
	}

	runID := uuid.NewString()
	ctx = observability.AddRunID(ctx, runID)
	if execCtx.SessionID != "" {
		ctx = observability.AddSessionID(ctx, execCtx.SessionID)
	}

	ctx, span := r.startSpan(ctx, cfg, execCtx)

	start := time.Now()
	result := &RunResult{
		Messages: append([]*models.Message{}, history...),
	}
	defer func() {
		result.Duration = time.Since(start)
	}()

	r.logger.Info(ctx, "run started",
		"agent_id", cfg.ID,
		"model", cfg.Model,
		"delegation_depth", execCtx.DelegationDepth,
		"messages", len(history),
	)

	for iteration := 1; ; iteration++ {
		if ctx.Err() != nil {
			err := r.abortError(execCtx)
			span(err)
			return result, err
		}
		if iteration > r.config.MaxIterations {
			r.logger.Warn(ctx, "run stopped at iteration limit", "iterations", r.config.MaxIterations)
			result.StopReason = StopMaxIterations
			span(ErrMaxIterations)
			return result, nil
		}
		if r.config.MaxWallTime > 0 && time.Since(start) > r.config.MaxWallTime {
			r.logger.Warn(ctx, "run stopped at wall time limit", "limit", r.config.MaxWallTime)
			result.StopReason = StopWallTime
			span(ErrWallTimeExceeded)
			return result, nil
		}
		result.Iterations = iteration

		resp, err := r.provider.GenerateCompletion(ctx, llm.CompletionParams{
			Model:       cfg.Model,
			Messages:    r.withSystemPrompt(cfg, result.Messages),
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
			MaxTokens:   r.config.MaxTokens,
			Tools:       r.registry.Definitions(cfg.EnabledTools),
		})
		if err != nil {
			if ctx.Err() != nil {
				abortErr := r.abortError(execCtx)
				span(abortErr)
				return result, abortErr
			}
			span(err)
			return result, fmt.Errorf("generating completion: %w", err)
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			final := r.newMessage(execCtx, models.RoleAssistant, resp.Content)
			r.append(ctx, result, final)
			result.Content = resp.Content
			result.StopReason = StopCompleted
			r.logger.Info(ctx, "run completed",
				"iterations", iteration,
				"tool_calls", result.ToolCallsExecuted,
				"total_tokens", result.Usage.TotalTokens,
			)
			span(nil)
			return result, nil
		}

		assistant := r.newMessage(execCtx, models.RoleAssistant, resp.Content)
		assistant.ToolCalls = resp.ToolCalls
		r.append(ctx, result, assistant)
		execCtx.MessageID = assistant.ID

		invocations, failures, _ := r.validator.ConvertToolCalls(resp.ToolCalls, r.config.ValidationMode, false)
		for _, failure := range failures {
			r.logger.Warn(ctx, "tool call conversion failed",
				"tool", failure.ToolName,
				"tool_call_id", failure.CallID,
				"kind", string(failure.ErrorType),
				"error", failure.Err,
			)
		}

		results := r.engine.ExecuteToolCalls(ctx, invocations, execCtx, r.config.MaxConcurrentTools)
		result.ToolCallsExecuted += len(results)

		toolMsg := r.newMessage(execCtx, models.RoleTool, "")
		for i := range results {
			toolMsg.ToolResults = append(toolMsg.ToolResults, results[i].ToToolResult())
		}
		r.append(ctx, result, toolMsg)
	}
}

// withSystemPrompt prepends the agent's system prompt unless the transcript
// already starts with a system message.
func (r *AgentCommandRunner) withSystemPrompt(cfg *models.AgentConfig, messages []*models.Message) []*models.Message {
	if cfg.SystemPrompt == "" {
		return messages
	}
	if len(messages) > 0 && messages[0] != nil && messages[0].Role == models.RoleSystem {
		return messages
	}
	system := &models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   cfg.SystemPrompt,
		CreatedAt: time.Now(),
	}
	return append([]*models.Message{system}, messages...)
}

func (r *AgentCommandRunner) newMessage(execCtx *ExecContext, role models.Role, content string) *models.Message {
	return &models.Message{
		ID:             uuid.NewString(),
		ConversationID: execCtx.ConversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

// append records the message in the result transcript and the store. Store
// failures are logged, not fatal: the in-memory transcript is authoritative
// for the remainder of the run.
func (r *AgentCommandRunner) append(ctx context.Context, result *RunResult, msg *models.Message) {
	result.Messages = append(result.Messages, msg)
	if r.store == nil {
		return
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		r.logger.Warn(ctx, "persisting message failed", "message_id", msg.ID, "error", err)
	}
}

func (r *AgentCommandRunner) abortError(execCtx *ExecContext) error {
	if execCtx.DelegationDepth > 0 {
		return ErrSubAgentAborted
	}
	return ErrAborted
}

type spanCloser func(error)

func (r *AgentCommandRunner) startSpan(ctx context.Context, cfg *models.AgentConfig, execCtx *ExecContext) (context.Context, spanCloser) {
	if r.tracer == nil {
		return ctx, func(error) {}
	}
	spanCtx, span := r.tracer.Start(ctx, "agent.run",
		attribute.String("agent.id", cfg.ID),
		attribute.String("agent.model", cfg.Model),
		attribute.Int("agent.delegation_depth", execCtx.DelegationDepth),
	)
	return spanCtx, func(err error) {
		if err != nil {
			observability.RecordError(span, err)
		}
		span.End()
	}
}
