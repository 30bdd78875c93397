package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nuvin-ai/nuvin/internal/observability"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// EngineConfig configures tool execution behavior.
type EngineConfig struct {
	// MaxConcurrent is the batch size for concurrent execution when the
	// caller passes maxConcurrent <= 0. Default: 4.
	MaxConcurrent int

	// PerToolTimeout bounds individual tool executions. Zero disables the
	// per-tool timeout.
	PerToolTimeout time.Duration
}

// DefaultEngineConfig returns the default execution settings: 4 concurrent
// tools, 60 second per-tool timeout.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrent:  4,
		PerToolTimeout: 60 * time.Second,
	}
}

// ToolExecutionEngine executes tool invocations in fixed-size concurrent
// batches with strict ordering and abort awareness. The engine itself is
// side-effect-free bookkeeping; all side effects belong to the tools.
type ToolExecutionEngine struct {
	registry *ToolRegistry
	config   EngineConfig
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewToolExecutionEngine creates an engine over the given registry. A nil
// metrics disables instrumentation.
func NewToolExecutionEngine(registry *ToolRegistry, config EngineConfig, logger *observability.Logger, metrics *observability.Metrics) *ToolExecutionEngine {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ToolExecutionEngine{
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// ExecuteToolCalls runs the invocations in consecutive batches of size
// maxConcurrent (engine default when <= 0). Batches are processed strictly
// in order; within a batch calls run concurrently and the result slice index
// always matches the input index regardless of completion order. A context
// cancelled at a batch boundary synthesizes Aborted error results for every
// remaining invocation without invoking any tool. Exactly one result is
// produced per invocation id.
func (e *ToolExecutionEngine) ExecuteToolCalls(ctx context.Context, invocations []models.ToolInvocation, execCtx *ExecContext, maxConcurrent int) []models.ToolExecutionResult {
	if maxConcurrent <= 0 {
		maxConcurrent = e.config.MaxConcurrent
	}

	results := make([]models.ToolExecutionResult, len(invocations))

	for start := 0; start < len(invocations); start += maxConcurrent {
		if ctx.Err() != nil {
			for i := start; i < len(invocations); i++ {
				results[i] = models.NewErrorResult(
					invocations[i].ID,
					invocations[i].Name,
					models.ReasonAborted,
					"tool execution aborted",
					0,
				)
			}
			e.logger.Info(ctx, "tool batch aborted",
				"completed", start,
				"aborted", len(invocations)-start,
			)
			return results
		}

		end := start + maxConcurrent
		if end > len(invocations) {
			end = len(invocations)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = e.executeOne(ctx, invocations[idx], execCtx)
			}(i)
		}
		wg.Wait()
	}

	return results
}

// executeOne produces the single result for one invocation. Panics in tool
// implementations are converted to structured error results so the batch
// always completes.
func (e *ToolExecutionEngine) executeOne(ctx context.Context, inv models.ToolInvocation, execCtx *ExecContext) (result models.ToolExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, "tool panicked",
				"tool", inv.Name,
				"tool_call_id", inv.ID,
				"panic", fmt.Sprint(r),
			)
			result = models.NewErrorResult(inv.ID, inv.Name, models.ReasonUnknown,
				fmt.Sprintf("tool %s panicked: %v", inv.Name, r), 0)
		}
	}()

	if inv.EditInstruction != "" {
		return models.NewErrorResult(inv.ID, inv.Name, models.ReasonEdited, inv.EditInstruction, 0)
	}

	tool, ok := e.registry.Get(inv.Name)
	if !ok {
		e.observe(inv.Name, models.StatusError, 0)
		return models.NewErrorResult(inv.ID, inv.Name, models.ReasonToolNotFound,
			"tool not found: "+inv.Name, 0)
	}

	if execCtx != nil {
		scoped := *execCtx
		scoped.ToolCallID = inv.ID
		execCtx = &scoped
	}

	toolCtx := observability.AddToolCallID(ctx, inv.ID)
	cancel := func() {}
	if e.config.PerToolTimeout > 0 {
		toolCtx, cancel = context.WithTimeout(toolCtx, e.config.PerToolTimeout)
	}
	defer cancel()

	start := time.Now()
	output, err := tool.Execute(toolCtx, inv.Parameters, execCtx)
	duration := time.Since(start)
	durationMs := duration.Milliseconds()

	if err != nil {
		reason := classifyExecutionError(toolCtx, err)
		e.observe(inv.Name, models.StatusError, duration)
		e.logger.Warn(ctx, "tool execution failed",
			"tool", inv.Name,
			"tool_call_id", inv.ID,
			"reason", string(reason),
			"error", err,
			"duration_ms", durationMs,
		)
		return models.NewErrorResult(inv.ID, inv.Name, reason, err.Error(), durationMs)
	}

	if output == nil {
		output = TextOutput("")
	}

	if output.IsError {
		reason := output.Reason
		if reason == "" {
			reason = models.ReasonUnknown
		}
		result := models.NewErrorResult(inv.ID, inv.Name, reason, output.Content, durationMs)
		for k, v := range output.Metadata {
			result.Metadata[k] = v
		}
		e.observe(inv.Name, models.StatusError, duration)
		return result
	}

	resultType := output.Type
	if resultType == "" {
		resultType = models.ResultText
	}
	e.observe(inv.Name, models.StatusSuccess, duration)
	return models.ToolExecutionResult{
		ID:         inv.ID,
		Name:       inv.Name,
		Status:     models.StatusSuccess,
		Type:       resultType,
		Result:     output.Content,
		Metadata:   output.Metadata,
		DurationMs: durationMs,
	}
}

func (e *ToolExecutionEngine) observe(toolName string, status models.ResultStatus, duration time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.ToolExecutionCounter.WithLabelValues(toolName, string(status)).Inc()
	e.metrics.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// classifyExecutionError maps a tool error to its result reason. Deadline
// overruns become Timeout, cancellations become Aborted, everything else is
// Unknown unless the error chain carries a ConversionFailure.
func classifyExecutionError(ctx context.Context, err error) models.ErrorReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.ReasonTimeout
	case errors.Is(err, context.Canceled), ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled):
		return models.ReasonAborted
	case errors.Is(err, ErrToolNotFound):
		return models.ReasonToolNotFound
	}
	var failure *ConversionFailure
	if errors.As(err, &failure) {
		return failure.ErrorType
	}
	return models.ReasonUnknown
}
