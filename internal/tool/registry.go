package tool

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Registry holds registered tools in registration order.
// It is instance-based (not global) for better testability.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	tools   map[string]Tool
	schemas map[string]*compiledSchema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*compiledSchema),
	}
}

// Register adds a tool to the registry. The tool's schema is compiled once
// here and used to validate every call's arguments.
func (r *Registry) Register(t Tool) error {
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return ErrEmptyToolName
	}
	if len(t.Scopes()) == 0 {
		return fmt.Errorf("%w: %s", ErrNoScopes, name)
	}
	schema, err := compileSchema(t.Schema())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}

	r.tools[name] = t
	r.schemas[name] = schema
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers every tool and panics on the first failure.
// It is meant for static tool sets wired at startup.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the tool with the given name, or ErrUnknownTool.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// ValidateArgs checks args against the named tool's schema.
func (r *Registry) ValidateArgs(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return schema.validate(args)
}

// Catalogue returns every tool descriptor in registration order.
// The order is stable across calls.
func (r *Registry) Catalogue() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, Descriptor{
			Name:        name,
			Description: t.Description(),
			Parameters:  r.schemas[name].raw,
		})
	}
	return out
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
