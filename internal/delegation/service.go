package delegation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nuvin-ai/nuvin/internal/agent"
	"github.com/nuvin-ai/nuvin/internal/conversation"
	"github.com/nuvin-ai/nuvin/internal/observability"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// DefaultMaxDepth is the hard cap on nested delegations.
const DefaultMaxDepth = 3

// DelegateParams are the arguments of one assign_task call.
type DelegateParams struct {
	// Agent is the catalog id of the specialist to delegate to.
	Agent string

	// Task is the instruction handed to the child.
	Task string

	// Description is a short summary shown to the user and injected into
	// the child prompt.
	Description string

	// Background runs the child detached; the caller polls with
	// task_output.
	Background bool

	// Resume reuses an existing session's identity and transcript.
	Resume string
}

// RunnerFactory builds the runner used for child executions. Children run
// the same conversation loop as the top-level agent; the factory exists so
// each child gets its own runner wired to the shared collaborators.
type RunnerFactory func() *agent.AgentCommandRunner

// ServiceConfig configures the delegation service.
type ServiceConfig struct {
	Catalog  *Catalog
	Registry *SessionRegistry
	Factory  *SpecialistAgentFactory
	Runner   RunnerFactory

	// MaxDepth caps nested delegations. Default: DefaultMaxDepth.
	MaxDepth int

	// Metrics tracks per-session rollups for delegation metadata. May be
	// nil.
	MetricsTracker *conversation.SessionMetricsTracker

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Service orchestrates sub-agent delegation. Every outcome carries a tagged
// kind decided where it originates; callers never classify error strings.
type Service struct {
	catalog  *Catalog
	registry *SessionRegistry
	factory  *SpecialistAgentFactory
	runner   RunnerFactory
	maxDepth int
	tracker  *conversation.SessionMetricsTracker
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// NewService creates the delegation service.
func NewService(config ServiceConfig) *Service {
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	if config.Logger == nil {
		config.Logger = observability.NopLogger()
	}
	return &Service{
		catalog:  config.Catalog,
		registry: config.Registry,
		factory:  config.Factory,
		runner:   config.Runner,
		maxDepth: config.MaxDepth,
		tracker:  config.MetricsTracker,
		logger:   config.Logger,
		metrics:  config.Metrics,
		tracer:   config.Tracer,
	}
}

// Delegate runs one delegation to completion (inline) or registers a
// background session and returns immediately. The returned result is always
// well-formed; failures are tagged, not thrown.
func (s *Service) Delegate(ctx context.Context, params DelegateParams, execCtx *agent.ExecContext) *models.DelegationResult {
	if execCtx == nil {
		execCtx = &agent.ExecContext{}
	}

	if params.Agent == "" || params.Task == "" || params.Description == "" {
		return s.outcome(params, "", &models.DelegationResult{
			Kind:  models.DelegationInvalidInput,
			Error: "assign_task requires agent, task, and description",
		})
	}

	// Depth is checked before any child state is created so an
	// over-deep delegation never spawns a sub-agent.
	if execCtx.DelegationDepth+1 > s.maxDepth {
		return s.outcome(params, "", &models.DelegationResult{
			Kind:  models.DelegationDepthExceeded,
			Error: fmt.Sprintf("maximum delegation depth %d exceeded", s.maxDepth),
		})
	}

	def, ok := s.catalog.Get(params.Agent)
	if !ok {
		return s.outcome(params, "", &models.DelegationResult{
			Kind:  models.DelegationNotFound,
			Error: fmt.Sprintf("agent %q not found in catalog", params.Agent),
		})
	}
	if !execCtx.AgentEnabled(def.ID) {
		return s.outcome(params, "", &models.DelegationResult{
			Kind:  models.DelegationPolicyDenied,
			Error: fmt.Sprintf("agent %q is disabled by policy", def.ID),
		})
	}

	spec := s.factory.Build(def, params, execCtx)

	if params.Background {
		return s.outcome(params, spec.AgentID, s.runBackground(spec, execCtx))
	}
	return s.outcome(params, spec.AgentID, s.runInline(ctx, spec, execCtx))
}

// runInline awaits the child and formats its outcome.
func (s *Service) runInline(ctx context.Context, spec *models.SpecialistAgentConfig, execCtx *agent.ExecContext) *models.DelegationResult {
	result, _ := s.runChild(ctx, spec, execCtx, "inline")
	return result
}

// runBackground registers (or reopens) a session, spawns the child with a
// lifetime decoupled from the caller's cancellation, and returns the
// session id immediately.
func (s *Service) runBackground(spec *models.SpecialistAgentConfig, execCtx *agent.ExecContext) *models.DelegationResult {
	var session *Session
	if spec.ResumeSessionID != "" {
		if reopened, ok := s.registry.Reopen(spec.ResumeSessionID); ok {
			session = reopened
		}
	}
	if session == nil {
		session = s.registry.Create(spec.AgentID)
		spec.SessionID = session.ID
	}

	go func() {
		// Background runs intentionally outlive the request that
		// spawned them.
		ctx := context.Background()
		result, messages := s.runChild(ctx, spec, execCtx, "background")
		if result.Success {
			s.registry.Complete(session.ID, result, messages)
		} else {
			s.registry.Fail(session.ID, result, messages)
		}
	}()

	return &models.DelegationResult{
		Kind:      models.DelegationOK,
		Success:   true,
		SessionID: session.ID,
		Summary:   fmt.Sprintf("Started background task with agent %q. Poll with task_output using session_id %s.", spec.AgentID, session.ID),
	}
}

// runChild executes the sub-agent loop and wraps the outcome. The returned
// transcript is stored on background sessions for resumption.
func (s *Service) runChild(ctx context.Context, spec *models.SpecialistAgentConfig, execCtx *agent.ExecContext, mode string) (*models.DelegationResult, []*models.Message) {
	childCtx := execCtx.Child(spec.SessionID, spec.AgentID)
	ctx = observability.AddSessionID(ctx, spec.SessionID)

	var span spanEnder = func(error) {}
	if s.tracer != nil {
		var traceCtx context.Context
		traceCtx, span = s.startSpan(ctx, spec)
		ctx = traceCtx
	}

	history := append([]*models.Message{}, spec.PreviousMessages...)
	history = append(history, &models.Message{
		ConversationID: spec.ConversationID,
		Role:           models.RoleUser,
		Content:        spec.TaskDescription,
		CreatedAt:      time.Now(),
	})

	start := time.Now()
	runner := s.runner()
	runResult, err := runner.Run(ctx, s.factory.AgentConfig(spec), childCtx, history)
	elapsed := time.Since(start)

	if err != nil {
		span(err)
		s.count(spec.AgentID, mode, "error")
		s.logger.Warn(ctx, "delegation failed",
			"agent_id", spec.AgentID,
			"delegation_depth", spec.DelegationDepth,
			"error", err,
		)
		var messages []*models.Message
		if runResult != nil {
			messages = runResult.Messages
		}
		return &models.DelegationResult{
			Kind:  models.DelegationExecutionError,
			Error: err.Error(),
		}, messages
	}

	if s.tracker != nil {
		s.tracker.Record(spec.SessionID, conversation.SessionMetrics{
			TotalTokens:   runResult.Usage.TotalTokens,
			Cost:          runResult.Usage.Cost,
			ToolCalls:     runResult.ToolCallsExecuted,
			ExecutionTime: elapsed,
		})
	}
	span(nil)
	s.count(spec.AgentID, mode, "ok")
	s.logger.Info(ctx, "delegation completed",
		"agent_id", spec.AgentID,
		"delegation_depth", spec.DelegationDepth,
		"duration_ms", elapsed.Milliseconds(),
		"tool_calls", runResult.ToolCallsExecuted,
	)

	return &models.DelegationResult{
		Kind:    models.DelegationOK,
		Success: true,
		Summary: runResult.Content,
		Metadata: map[string]any{
			"agentId":           spec.AgentID,
			"sessionId":         spec.SessionID,
			"executionTimeMs":   elapsed.Milliseconds(),
			"toolCallsExecuted": runResult.ToolCallsExecuted,
			"tokensUsed":        runResult.Usage.TotalTokens,
			"iterations":        runResult.Iterations,
			"stopReason":        string(runResult.StopReason),
		},
	}, runResult.Messages
}

func (s *Service) count(agentID, mode, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.DelegationCounter.WithLabelValues(agentID, mode, outcome).Inc()
}

// Registry exposes the session registry for the polling tool and CLI.
func (s *Service) Registry() *SessionRegistry {
	return s.registry
}

// Catalog exposes the agent catalog for listings.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// MaxDepth returns the configured delegation depth cap.
func (s *Service) MaxDepth() int {
	return s.maxDepth
}

func (s *Service) outcome(params DelegateParams, agentID string, result *models.DelegationResult) *models.DelegationResult {
	if result.Kind != models.DelegationOK && s.metrics != nil {
		id := agentID
		if id == "" {
			id = params.Agent
		}
		mode := "inline"
		if params.Background {
			mode = "background"
		}
		s.metrics.DelegationCounter.WithLabelValues(id, mode, string(result.Kind)).Inc()
	}
	return result
}

type spanEnder func(error)

func (s *Service) startSpan(ctx context.Context, spec *models.SpecialistAgentConfig) (context.Context, spanEnder) {
	spanCtx, span := s.tracer.Start(ctx, "delegation.run",
		attribute.String("delegation.agent_id", spec.AgentID),
		attribute.String("delegation.session_id", spec.SessionID),
		attribute.Int("delegation.depth", spec.DelegationDepth),
	)
	return spanCtx, func(err error) {
		if err != nil {
			observability.RecordError(span, err)
		}
		span.End()
	}
}
