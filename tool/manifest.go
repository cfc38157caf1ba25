// Package tool defines the manifest contract binding pipeline state to tool
// parameters, the immutable registry of registered tools, and the parameter
// binder that derives call arguments from state.
package tool

import "context"

// Runner is the callable behind a registered tool. It is a pure function of
// its bound arguments producing a value matching the manifest's declared
// output shape. Side effects (network calls to a mailbox provider or a
// text-generation provider) are owned entirely by the implementation.
type Runner func(ctx context.Context, args map[string]any) (any, error)

// Manifest is the static descriptor for a tool: its name, parameters,
// output shape, and state dependencies. Manifests are built once at process
// start and never mutated.
type Manifest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputParams []Param    `json:"inputParams"`
	Output      OutputSpec `json:"outputParams"`
	State       StateDeps  `json:"stateRequirements"`
}

// Param describes a single input parameter. Parameters resolve against
// invocation-time constants first, then state keys of the same name.
type Param struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description,omitempty"`
	Required    bool        `json:"required"`
	Default     any         `json:"default,omitempty"`
	Filter      *FilterSpec `json:"filter,omitempty"`
}

// FilterSpec restricts a list-typed parameter to elements whose Field equals
// Value. Ordering of surviving elements is preserved and the source list is
// never mutated.
type FilterSpec struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// OutputSpec describes the semantic type and shape of a tool's return value.
type OutputSpec struct {
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Structure   map[string]string `json:"structure,omitempty"`
}

// StateDeps declares which state keys a tool consumes and produces. The
// declaration drives the binder and the state store; it is not enforced
// against the tool's actual behavior (trust boundary).
type StateDeps struct {
	Reads  []string `json:"reads"`
	Writes []string `json:"writes"`
}

// Description is the serializable, redacted view of a tool handed to the
// planning oracle: metadata only, no callables.
type Description struct {
	Description string     `json:"description"`
	InputParams []Param    `json:"inputParams"`
	Output      OutputSpec `json:"outputParams"`
}

// Describe returns the manifest's redacted view.
func (m Manifest) Describe() Description {
	return Description{
		Description: m.Description,
		InputParams: m.InputParams,
		Output:      m.Output,
	}
}
