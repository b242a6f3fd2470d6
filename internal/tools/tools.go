// Package tools defines the tool registry consumed by the tool-call
// scheduler, plus the built-in workspace tools.
//
// A Tool carries its own metadata (display name, description, parameter
// schema, whether it needs human approval) and its execution logic. The
// registry is the only way the scheduler resolves a name to a tool.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownTool is returned by Lookup for unregistered names.
var ErrUnknownTool = errors.New("unknown tool")

// Result is a successful tool execution outcome. Content is fed back to the
// generation engine; Display is the human-readable form shown to the client.
type Result struct {
	Content any
	Display string
}

// Tool is one named, side-effecting operation the generation engine can
// request.
type Tool interface {
	// Name returns the unique identifier the engine calls the tool by.
	Name() string

	// DisplayName returns the human-readable name shown to the client.
	DisplayName() string

	// Description returns what the tool does; the engine uses this to
	// decide when to call it.
	Description() string

	// Parameters returns the JSON schema for the tool's argument map.
	Parameters() map[string]any

	// RequiresConfirmation reports whether execution must be gated behind
	// explicit client approval.
	RequiresConfirmation() bool

	// ConfirmationPrompt renders the approval question for the given
	// arguments. Only called when RequiresConfirmation is true.
	ConfirmationPrompt(args map[string]any) string

	// Execute runs the tool. It must observe ctx cancellation promptly.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Registry holds the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering a duplicate name is an error.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Lookup resolves a tool by name.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// All returns every registered tool, sorted by name.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	return s, nil
}
