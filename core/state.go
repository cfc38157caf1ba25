package core

import (
	"sort"
)

// State is the single mutable key/value structure threading pipeline progress
// across loop iterations. It is created fresh per run, owned exclusively by
// the dispatch loop for the run's lifetime, and discarded at the end.
//
// Invocation-time constants (e.g. the requested item count) are injected once
// at construction and are never overwritten by tool output: tool writes land
// in the variable map, and the parameter binder resolves constants first.
type State struct {
	vars      map[string]any
	constants map[string]any
}

// NewState creates a state with the given initial keys (each starting nil)
// and invocation-time constants.
func NewState(keys []string, constants map[string]any) *State {
	vars := make(map[string]any, len(keys))
	for _, k := range keys {
		vars[k] = nil
	}
	consts := make(map[string]any, len(constants))
	for k, v := range constants {
		consts[k] = v
	}
	return &State{vars: vars, constants: consts}
}

// Get retrieves a variable by key. Constants are not visible through Get;
// use Constant for those.
func (s *State) Get(key string) (any, bool) {
	v, ok := s.vars[key]
	return v, ok
}

// Constant retrieves an invocation-time constant by name.
func (s *State) Constant(name string) (any, bool) {
	v, ok := s.constants[name]
	return v, ok
}

// Set assigns a variable. Constants cannot be shadowed: a Set on a constant
// name still lands in the variable map and the binder keeps preferring the
// constant.
func (s *State) Set(key string, value any) {
	if s.vars == nil {
		s.vars = make(map[string]any)
	}
	s.vars[key] = value
}

// ApplyWrites assigns result to every declared write key. When a manifest
// declares more than one write key the same value is broadcast to each;
// stabilized manifests declare exactly one. Write keys are never read before
// writing: last write wins, there are no merge semantics.
func (s *State) ApplyWrites(writes []string, result any) {
	for _, key := range writes {
		s.Set(key, result)
	}
}

// GetString retrieves a variable as a string.
// Returns empty string if absent or not a string.
func (s *State) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return str
}

// Snapshot returns a copy of the full state (variables plus constants)
// suitable for serialization to the planning oracle. Mutating the returned
// map does not affect the state. Values are shared, not deep-copied; tools
// and the planner must treat them as read-only.
func (s *State) Snapshot() map[string]any {
	out := make(map[string]any, len(s.vars)+len(s.constants))
	for k, v := range s.vars {
		out[k] = v
	}
	for k, v := range s.constants {
		out[k] = v
	}
	return out
}

// Keys returns the variable keys in deterministic order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.vars))
	for k := range s.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
