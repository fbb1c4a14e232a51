// Package tools defines the shared [Tool] type used by all built-in tool
// packages, plus the [Registry] that dispatches LLM tool calls to validated
// handlers.
//
// Dispatch never returns a Go error to the model: every outcome is a JSON
// envelope. Validation problems produce an envelope that names the offending
// parameter so the model can correct itself and retry; unexpected handler
// failures produce a generic envelope while the detailed reason goes to the
// log only.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/auricle/pkg/provider/llm"
)

// ErrValidation marks a tool error whose message is safe to show to the
// model. Handlers construct these with [Validationf]; everything not wrapping
// ErrValidation is treated as an internal failure and hidden.
var ErrValidation = errors.New("invalid arguments")

// Tool represents a built-in tool ready for registration with the [Registry].
//
// Each Tool carries its LLM-facing schema ([llm.ToolDefinition]) together
// with the handler function that is invoked when the LLM calls the tool.
type Tool struct {
	// Definition is the tool's LLM-facing schema including its name,
	// description, and JSON Schema parameter specification.
	Definition llm.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns a
	// JSON-encoded result string on success, or a descriptive error.
	// Implementations must be safe for concurrent use and must respect
	// context cancellation.
	Handler func(ctx context.Context, args string) (string, error)
}

// validationError carries a model-facing validation message. Unwraps to
// [ErrValidation].
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Unwrap() error { return ErrValidation }

// Validationf builds a validation error whose formatted message is returned
// to the model verbatim inside the invalid-arguments envelope. Keep messages
// plain and actionable ("amount must be positive, got -3.50").
func Validationf(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// Registry is the catalog of tools available to the LLM. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds a registry from one or more tool sets. Duplicate tool
// names are a wiring bug and fail construction.
func NewRegistry(sets ...[]Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, set := range sets {
		for _, t := range set {
			name := t.Definition.Name
			if name == "" {
				return nil, fmt.Errorf("tools: tool with empty name")
			}
			if _, dup := r.tools[name]; dup {
				return nil, fmt.Errorf("tools: duplicate tool %q", name)
			}
			if t.Handler == nil {
				return nil, fmt.Errorf("tools: tool %q has no handler", name)
			}
			r.tools[name] = t
			r.order = append(r.order, name)
		}
	}
	return r, nil
}

// Definitions returns the tool schemas in registration order. The returned
// slice is a copy; callers must not mutate the shared Parameters maps.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.order) }

// Dispatch resolves name, validates the JSON-encoded args against the tool's
// required parameters, runs the handler, and returns a JSON string in every
// case:
//
//   - unknown name        → {"error":"Unknown tool: <name>"}
//   - invalid arguments   → {"error":"Invalid arguments for <name>: <detail>"}
//   - handler failure     → {"error":"Tool execution failed. Please try again.","function":"<name>"}
//   - success             → the handler's JSON result
//
// Handler failure details are logged, never returned to the model.
func (r *Registry) Dispatch(ctx context.Context, name, args string) string {
	t, ok := r.tools[name]
	if !ok {
		return errorEnvelope(fmt.Sprintf("Unknown tool: %s", name))
	}

	if err := checkRequired(t.Definition, args); err != nil {
		return errorEnvelope(fmt.Sprintf("Invalid arguments for %s: %s", name, err))
	}

	result, err := t.Handler(ctx, args)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return errorEnvelope(fmt.Sprintf("Invalid arguments for %s: %s", name, err))
		}
		slog.Error("tool execution failed", "tool", name, "error", err)
		return failureEnvelope(name)
	}
	return result
}

// checkRequired verifies args is a JSON object containing every parameter the
// tool's schema marks required. Empty args count as an empty object.
func checkRequired(def llm.ToolDefinition, args string) error {
	if args == "" {
		args = "{}"
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &m); err != nil {
		return Validationf("arguments are not a JSON object")
	}
	required, _ := def.Parameters["required"].([]string)
	for _, key := range required {
		if _, present := m[key]; !present {
			return Validationf("missing required parameter %q", key)
		}
	}
	return nil
}

// errorEnvelope returns {"error":<msg>} as a JSON string.
func errorEnvelope(msg string) string {
	out, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: msg})
	if err != nil {
		// Marshalling a string cannot fail; keep the shape anyway.
		return `{"error":"internal error"}`
	}
	return string(out)
}

// failureEnvelope returns the generic handler-failure envelope naming the
// tool so the model knows which call went wrong.
func failureEnvelope(name string) string {
	out, err := json.Marshal(struct {
		Error    string `json:"error"`
		Function string `json:"function"`
	}{
		Error:    "Tool execution failed. Please try again.",
		Function: name,
	})
	if err != nil {
		return `{"error":"internal error"}`
	}
	return string(out)
}
