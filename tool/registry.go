package tool

import (
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when a lookup names a tool that was never
// registered. The planning oracle selecting such a name is fatal to a run.
var ErrUnknownTool = errors.New("unknown tool")

// Registered pairs a manifest with its runner for registration.
type Registered struct {
	Manifest Manifest
	Run      Runner
}

// Registry is the static table of available tools. It is immutable after
// construction; concurrent reads are always safe since there are no writes
// post-init, so a single registry is shared across pipeline runs.
type Registry struct {
	order   []string
	entries map[string]Registered
}

// NewRegistry builds a registry from the given tools. Registration order is
// preserved: the first tool is by convention the pipeline's data-acquisition
// step and serves as the deterministic fallback when the oracle's response
// cannot be parsed.
func NewRegistry(tools ...Registered) (*Registry, error) {
	r := &Registry{entries: make(map[string]Registered, len(tools))}
	for _, t := range tools {
		if t.Manifest.Name == "" {
			return nil, errors.New("tool: manifest name is required")
		}
		if t.Run == nil {
			return nil, fmt.Errorf("tool: %s has no runner", t.Manifest.Name)
		}
		if _, dup := r.entries[t.Manifest.Name]; dup {
			return nil, fmt.Errorf("tool: duplicate registration %q", t.Manifest.Name)
		}
		r.entries[t.Manifest.Name] = t
		r.order = append(r.order, t.Manifest.Name)
	}
	if len(r.order) == 0 {
		return nil, errors.New("tool: registry needs at least one tool")
	}
	return r, nil
}

// Lookup returns the manifest and runner for name.
func (r *Registry) Lookup(name string) (Manifest, Runner, error) {
	entry, ok := r.entries[name]
	if !ok {
		return Manifest{}, nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return entry.Manifest, entry.Run, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// First returns the name of the first registered tool.
func (r *Registry) First() string {
	return r.order[0]
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Describe returns the redacted per-tool view handed to the planning oracle
// so it can reason about available actions without seeing implementations.
func (r *Registry) Describe() map[string]Description {
	out := make(map[string]Description, len(r.entries))
	for name, entry := range r.entries {
		out[name] = entry.Manifest.Describe()
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}
