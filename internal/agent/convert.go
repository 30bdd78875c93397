package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nuvin-ai/nuvin/internal/observability"
	"github.com/nuvin-ai/nuvin/pkg/models"
)

// ValidationMode controls how schema failures are handled during tool call
// conversion.
type ValidationMode string

const (
	// ModeStrict rejects calls whose parameters fail schema validation.
	ModeStrict ValidationMode = "strict"

	// ModeLenient logs a warning on schema failure and passes the
	// unvalidated parameters through.
	ModeLenient ValidationMode = "lenient"
)

// ToolCallValidator converts raw provider tool calls into typed invocations,
// optionally validating parameters against per-tool JSON Schemas. Conversion
// is pure: the same (arguments, toolName, mode) always classifies the same
// way.
type ToolCallValidator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
	logger  *observability.Logger
}

// NewToolCallValidator creates a validator with no registered schemas. Tools
// without a schema convert with untyped parameters.
func NewToolCallValidator(logger *observability.Logger) *ToolCallValidator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ToolCallValidator{
		schemas: make(map[string]*jsonschema.Schema),
		logger:  logger,
	}
}

// RegisterSchema compiles and registers a parameter schema for a tool name.
func (v *ToolCallValidator) RegisterSchema(toolName string, schema json.RawMessage) error {
	compiled, err := jsonschema.CompileString(toolName+".schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("compiling schema for tool %s: %w", toolName, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[toolName] = compiled
	return nil
}

// RegisterToolSchemas registers the schemas of every tool in the registry
// that declares one. Returns the first compile error encountered.
func (v *ToolCallValidator) RegisterToolSchemas(registry *ToolRegistry) error {
	for _, name := range registry.Names() {
		tool, ok := registry.Get(name)
		if !ok {
			continue
		}
		schema := tool.Schema()
		if len(schema) == 0 {
			continue
		}
		if err := v.RegisterSchema(name, schema); err != nil {
			return err
		}
	}
	return nil
}

// ConvertToolCall converts one raw tool call into an invocation. Parse
// failures return a parse-kind ConversionFailure carrying the raw argument
// string. Schema failures return a validation-kind failure in strict mode;
// in lenient mode they are logged and the unvalidated parameters are used.
// Calls exceeding MaxToolNameLength or MaxToolParamsSize are rejected in
// both modes, before the arguments are parsed.
func (v *ToolCallValidator) ConvertToolCall(call models.ToolCall, mode ValidationMode) (models.ToolInvocation, *ConversionFailure) {
	if len(call.Name) > MaxToolNameLength {
		return models.ToolInvocation{}, &ConversionFailure{
			CallID:    call.ID,
			ToolName:  call.Name,
			ErrorType: models.ReasonValidation,
			Err:       fmt.Errorf("tool name is %d bytes, limit is %d", len(call.Name), MaxToolNameLength),
		}
	}
	if len(call.Arguments) > MaxToolParamsSize {
		return models.ToolInvocation{}, &ConversionFailure{
			CallID:    call.ID,
			ToolName:  call.Name,
			ErrorType: models.ReasonValidation,
			Err:       fmt.Errorf("tool arguments are %d bytes, limit is %d", len(call.Arguments), MaxToolParamsSize),
		}
	}

	params, err := parseArguments(call.Arguments)
	if err != nil {
		return models.ToolInvocation{}, &ConversionFailure{
			CallID:       call.ID,
			ToolName:     call.Name,
			ErrorType:    models.ReasonParse,
			Err:          err,
			RawArguments: call.Arguments,
		}
	}

	v.mu.RLock()
	schema, ok := v.schemas[call.Name]
	v.mu.RUnlock()
	if ok {
		if err := schema.Validate(toValidatable(params)); err != nil {
			if mode == ModeStrict {
				return models.ToolInvocation{}, &ConversionFailure{
					CallID:    call.ID,
					ToolName:  call.Name,
					ErrorType: models.ReasonValidation,
					Err:       err,
				}
			}
			v.logger.Warn(context.Background(), "tool call failed schema validation, proceeding with unvalidated parameters",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"error", err,
			)
		}
	}

	return models.ToolInvocation{
		ID:         call.ID,
		Name:       call.Name,
		Parameters: params,
	}, nil
}

// ConvertToolCalls converts a batch of tool calls. With throwOnError=true,
// the first failure aborts the batch and is returned as the error. With
// throwOnError=false, failed calls become empty-parameter placeholder
// invocations so the result list stays aligned with the input, and the
// failures are returned alongside.
func (v *ToolCallValidator) ConvertToolCalls(calls []models.ToolCall, mode ValidationMode, throwOnError bool) ([]models.ToolInvocation, []*ConversionFailure, error) {
	invocations := make([]models.ToolInvocation, 0, len(calls))
	var failures []*ConversionFailure

	for _, call := range calls {
		inv, failure := v.ConvertToolCall(call, mode)
		if failure != nil {
			if throwOnError {
				return nil, nil, failure
			}
			failures = append(failures, failure)
			inv = models.ToolInvocation{
				ID:         call.ID,
				Name:       call.Name,
				Parameters: map[string]any{},
			}
		}
		invocations = append(invocations, inv)
	}
	return invocations, failures, nil
}

// parseArguments decodes a provider argument string into a parameter map.
// Empty and whitespace-only strings mean no arguments.
func parseArguments(arguments string) (map[string]any, error) {
	if strings.TrimSpace(arguments) == "" {
		return map[string]any{}, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(arguments), &params); err != nil {
		return nil, fmt.Errorf("parsing tool arguments: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// toValidatable round-trips the parameter map through encoding/json so the
// schema library sees plain decoded values.
func toValidatable(params map[string]any) any {
	payload, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return params
	}
	return decoded
}
