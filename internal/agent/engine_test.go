package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nuvin-ai/nuvin/pkg/models"
)

type mockTool struct {
	name    string
	schema  json.RawMessage
	execute func(ctx context.Context, params map[string]any, execCtx *ExecContext) (*ToolOutput, error)
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return "mock " + m.name }
func (m *mockTool) Schema() json.RawMessage { return m.schema }
func (m *mockTool) Execute(ctx context.Context, params map[string]any, execCtx *ExecContext) (*ToolOutput, error) {
	return m.execute(ctx, params, execCtx)
}

func newTestEngine(t *testing.T, tools ...Tool) (*ToolExecutionEngine, *ToolRegistry) {
	t.Helper()
	registry := NewToolRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	engine := NewToolExecutionEngine(registry, EngineConfig{MaxConcurrent: 4}, nil, nil)
	return engine, registry
}

func invocationsN(n int) []models.ToolInvocation {
	invs := make([]models.ToolInvocation, n)
	for i := range invs {
		invs[i] = models.ToolInvocation{
			ID:         fmt.Sprintf("call-%d", i),
			Name:       "echo",
			Parameters: map[string]any{"i": i},
		}
	}
	return invs
}

func TestExecuteToolCallsOrdering(t *testing.T) {
	// Later calls finish first; results must still line up with input order.
	echo := &mockTool{
		name: "echo",
		execute: func(ctx context.Context, params map[string]any, _ *ExecContext) (*ToolOutput, error) {
			i := params["i"].(int)
			time.Sleep(time.Duration(8-i) * time.Millisecond)
			return TextOutput(fmt.Sprintf("result-%d", i)), nil
		},
	}
	engine, _ := newTestEngine(t, echo)

	results := engine.ExecuteToolCalls(context.Background(), invocationsN(8), &ExecContext{}, 4)
	if len(results) != 8 {
		t.Fatalf("len(results) = %d, want 8", len(results))
	}
	for i, result := range results {
		if result.ID != fmt.Sprintf("call-%d", i) {
			t.Errorf("results[%d].ID = %q, want call-%d", i, result.ID, i)
		}
		if result.Result != fmt.Sprintf("result-%d", i) {
			t.Errorf("results[%d].Result = %q, want result-%d", i, result.Result, i)
		}
		if result.Status != models.StatusSuccess {
			t.Errorf("results[%d].Status = %q", i, result.Status)
		}
	}
}

func TestExecuteToolCallsEmpty(t *testing.T) {
	engine, _ := newTestEngine(t)
	results := engine.ExecuteToolCalls(context.Background(), nil, &ExecContext{}, 4)
	if len(results) != 0 {
		t.Fatalf("len(results) = %d, want 0", len(results))
	}
}

func TestExecuteToolCallsPreAborted(t *testing.T) {
	var executions atomic.Int32
	echo := &mockTool{
		name: "echo",
		execute: func(ctx context.Context, params map[string]any, _ *ExecContext) (*ToolOutput, error) {
			executions.Add(1)
			return TextOutput("ok"), nil
		},
	}
	engine, _ := newTestEngine(t, echo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := engine.ExecuteToolCalls(ctx, invocationsN(3), &ExecContext{}, 4)
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for i, result := range results {
		if result.Status != models.StatusError {
			t.Errorf("results[%d].Status = %q, want error", i, result.Status)
		}
		if reason := result.ErrorReason(); reason != models.ReasonAborted {
			t.Errorf("results[%d] reason = %q, want aborted", i, reason)
		}
		if result.DurationMs != 0 {
			t.Errorf("results[%d].DurationMs = %d, want 0", i, result.DurationMs)
		}
	}
	if n := executions.Load(); n != 0 {
		t.Errorf("tool executed %d times on an aborted batch, want 0", n)
	}
}

func TestExecuteToolCallsAbortBetweenBatches(t *testing.T) {
	var executions atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	echo := &mockTool{
		name: "echo",
		execute: func(ctx context.Context, params map[string]any, _ *ExecContext) (*ToolOutput, error) {
			executions.Add(1)
			cancel()
			return TextOutput("ok"), nil
		},
	}
	engine, _ := newTestEngine(t, echo)

	results := engine.ExecuteToolCalls(ctx, invocationsN(4), &ExecContext{}, 2)
	if n := executions.Load(); n != 2 {
		t.Fatalf("tool executed %d times, want exactly the first batch of 2", n)
	}
	for i := 0; i < 2; i++ {
		if results[i].Status != models.StatusSuccess {
			t.Errorf("results[%d].Status = %q, want success", i, results[i].Status)
		}
	}
	for i := 2; i < 4; i++ {
		if reason := results[i].ErrorReason(); reason != models.ReasonAborted {
			t.Errorf("results[%d] reason = %q, want aborted", i, reason)
		}
		if results[i].DurationMs != 0 {
			t.Errorf("results[%d].DurationMs = %d, want 0", i, results[i].DurationMs)
		}
	}
}

func TestExecuteScopesToolCallID(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]string)
	echo := &mockTool{
		name: "echo",
		execute: func(ctx context.Context, params map[string]any, execCtx *ExecContext) (*ToolOutput, error) {
			mu.Lock()
			seen[fmt.Sprintf("call-%d", params["i"].(int))] = execCtx.ToolCallID
			mu.Unlock()
			return TextOutput("ok"), nil
		},
	}
	engine, _ := newTestEngine(t, echo)

	shared := &ExecContext{ConversationID: "conv-1"}
	engine.ExecuteToolCalls(context.Background(), invocationsN(4), shared, 4)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("call-%d", i)
		if seen[id] != id {
			t.Errorf("ToolCallID for %s = %q, want the invocation id", id, seen[id])
		}
	}
	if shared.ToolCallID != "" {
		t.Errorf("shared context ToolCallID = %q, want left untouched", shared.ToolCallID)
	}
}

func TestExecuteEditInstructionShortCircuits(t *testing.T) {
	var executions atomic.Int32
	echo := &mockTool{
		name: "echo",
		execute: func(ctx context.Context, params map[string]any, _ *ExecContext) (*ToolOutput, error) {
			executions.Add(1)
			return TextOutput("ok"), nil
		},
	}
	engine, _ := newTestEngine(t, echo)

	invs := []models.ToolInvocation{{
		ID:              "call-0",
		Name:            "echo",
		Parameters:      map[string]any{},
		EditInstruction: "user rewrote this call",
	}}
	results := engine.ExecuteToolCalls(context.Background(), invs, &ExecContext{}, 1)

	if reason := results[0].ErrorReason(); reason != models.ReasonEdited {
		t.Errorf("reason = %q, want edited", reason)
	}
	if results[0].Result != "user rewrote this call" {
		t.Errorf("Result = %q, want the edit instruction", results[0].Result)
	}
	if results[0].DurationMs != 0 {
		t.Errorf("DurationMs = %d, want 0", results[0].DurationMs)
	}
	if executions.Load() != 0 {
		t.Error("tool executed despite edit instruction")
	}
}

func TestExecuteToolNotFound(t *testing.T) {
	engine, _ := newTestEngine(t)
	invs := []models.ToolInvocation{{ID: "call-0", Name: "missing", Parameters: map[string]any{}}}

	results := engine.ExecuteToolCalls(context.Background(), invs, &ExecContext{}, 1)
	if reason := results[0].ErrorReason(); reason != models.ReasonToolNotFound {
		t.Errorf("reason = %q, want tool_not_found", reason)
	}
	if results[0].Result != "tool not found: missing" {
		t.Errorf("Result = %q", results[0].Result)
	}
}

func TestExecutePanicRecovery(t *testing.T) {
	boom := &mockTool{
		name: "boom",
		execute: func(ctx context.Context, params map[string]any, _ *ExecContext) (*ToolOutput, error) {
			panic("kaboom")
		},
	}
	steady := &mockTool{
		name: "steady",
		execute: func(ctx context.Context, params map[string]any, _ *ExecContext) (*ToolOutput, error) {
			return TextOutput("fine"), nil
		},
	}
	engine, _ := newTestEngine(t, boom, steady)

	invs := []models.ToolInvocation{
		{ID: "call-0", Name: "boom", Parameters: map[string]any{}},
		{ID: "call-1", Name: "steady", Parameters: map[string]any{}},
	}
	results := engine.ExecuteToolCalls(context.Background(), invs, &ExecContext{}, 2)

	if reason := results[0].ErrorReason(); reason != models.ReasonUnknown {
		t.Errorf("panic reason = %q, want unknown", reason)
	}
	if results[1].Status != models.StatusSuccess || results[1].Result != "fine" {
		t.Errorf("sibling result = %+v, want unaffected success", results[1])
	}
}

func TestExecutePerToolTimeout(t *testing.T) {
	slow := &mockTool{
		name: "slow",
		execute: func(ctx context.Context, params map[string]any, _ *ExecContext) (*ToolOutput, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	registry := NewToolRegistry()
	registry.Register(slow)
	engine := NewToolExecutionEngine(registry, EngineConfig{
		MaxConcurrent:  1,
		PerToolTimeout: 10 * time.Millisecond,
	}, nil, nil)

	invs := []models.ToolInvocation{{ID: "call-0", Name: "slow", Parameters: map[string]any{}}}
	results := engine.ExecuteToolCalls(context.Background(), invs, &ExecContext{}, 1)

	if reason := results[0].ErrorReason(); reason != models.ReasonTimeout {
		t.Errorf("reason = %q, want timeout", reason)
	}
}

func TestExecuteErrorOutputReason(t *testing.T) {
	denied := &mockTool{
		name: "denied",
		execute: func(ctx context.Context, params map[string]any, _ *ExecContext) (*ToolOutput, error) {
			return ErrorOutput(models.ReasonPolicyDenied, "not allowed"), nil
		},
	}
	engine, _ := newTestEngine(t, denied)

	invs := []models.ToolInvocation{{ID: "call-0", Name: "denied", Parameters: map[string]any{}}}
	results := engine.ExecuteToolCalls(context.Background(), invs, &ExecContext{}, 1)

	if reason := results[0].ErrorReason(); reason != models.ReasonPolicyDenied {
		t.Errorf("reason = %q, want policy_denied", reason)
	}
	if results[0].Result != "not allowed" {
		t.Errorf("Result = %q", results[0].Result)
	}
}

func TestClassifyExecutionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorReason
	}{
		{"deadline", context.DeadlineExceeded, models.ReasonTimeout},
		{"cancel", context.Canceled, models.ReasonAborted},
		{"not found", fmt.Errorf("wrapping: %w", ErrToolNotFound), models.ReasonToolNotFound},
		{"conversion", &ConversionFailure{ErrorType: models.ReasonValidation, Err: errors.New("bad")}, models.ReasonValidation},
		{"plain", errors.New("something else"), models.ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyExecutionError(context.Background(), tt.err); got != tt.want {
				t.Errorf("classifyExecutionError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
