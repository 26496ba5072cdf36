// Package tool defines the capability interface every model-invocable action
// implements, the registry that exposes them, and the gate that runs a call
// through validation, policy and per-session approval before executing it.
package tool

import (
	"context"
	"encoding/json"
)

// Scope declares what kind of access a tool requires.
// Every tool must declare at least one scope.
type Scope string

// Scope values for tool access requirements.
const (
	ScopeReadOnly  Scope = "read_only"
	ScopeReadWrite Scope = "read_write"
)

// ApprovalContext carries what a tool needs to phrase its approval prompt.
type ApprovalContext struct {
	// Info is appended to the prompt; callers use it for session context
	// such as who is asking.
	Info string

	// English selects English prompts; otherwise prompts are in Chinese.
	English bool
}

// Tool is one model-invocable capability.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	Description() string

	// Schema returns the JSON Schema describing the tool's arguments, in the
	// canonical {"properties":...,"required":[...],"type":"object"} shape.
	Schema() json.RawMessage

	// Scopes returns the access scopes this tool requires.
	Scopes() []Scope

	// Approval reports whether this particular call needs human confirmation
	// and, if so, the message to show. It must be deterministic for the same
	// args and context, and must not touch the filesystem.
	Approval(args json.RawMessage, actx ApprovalContext) (message string, required bool, err error)

	// Run executes the tool. The returned text is what the model sees.
	Run(ctx context.Context, args json.RawMessage) (string, error)
}

// Descriptor is the catalogue entry for a tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// FunctionSpec wraps a Descriptor in the function-calling envelope used by
// LLM APIs: {"type":"function","function":{...}}.
type FunctionSpec struct {
	Type     string     `json:"type"`
	Function Descriptor `json:"function"`
}

// FunctionSpecs converts descriptors to function-calling entries.
func FunctionSpecs(descs []Descriptor) []FunctionSpec {
	out := make([]FunctionSpec, len(descs))
	for i, d := range descs {
		out[i] = FunctionSpec{Type: "function", Function: d}
	}
	return out
}
