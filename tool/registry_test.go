package tool

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func noopRunner(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

func TestNewRegistry_RejectsInvalidRegistrations(t *testing.T) {
	cases := []struct {
		name  string
		tools []Registered
	}{
		{"empty", nil},
		{"unnamed", []Registered{{Manifest: Manifest{}, Run: noopRunner}}},
		{"nil runner", []Registered{{Manifest: Manifest{Name: "x"}}}},
		{"duplicate", []Registered{
			{Manifest: Manifest{Name: "x"}, Run: noopRunner},
			{Manifest: Manifest{Name: "x"}, Run: noopRunner},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.tools...); err == nil {
				t.Fatalf("NewRegistry() error = nil, want error")
			}
		})
	}
}

func TestRegistry_LookupUnknownTool(t *testing.T) {
	r, err := NewRegistry(Registered{Manifest: Manifest{Name: "fetch"}, Run: noopRunner})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	_, _, err = r.Lookup("no_such_tool")
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("Lookup() error = %v, want ErrUnknownTool", err)
	}
}

func TestRegistry_PreservesRegistrationOrder(t *testing.T) {
	r, err := NewRegistry(
		Registered{Manifest: Manifest{Name: "fetch"}, Run: noopRunner},
		Registered{Manifest: Manifest{Name: "classify"}, Run: noopRunner},
		Registered{Manifest: Manifest{Name: "summarize"}, Run: noopRunner},
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	if r.First() != "fetch" {
		t.Fatalf("First() = %q, want fetch", r.First())
	}
	want := []string{"fetch", "classify", "summarize"}
	if !reflect.DeepEqual(r.Names(), want) {
		t.Fatalf("Names() = %v, want %v", r.Names(), want)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
}

func TestRegistry_DescribeRedactsRunners(t *testing.T) {
	m := Manifest{
		Name:        "fetch",
		Description: "Fetches emails from the configured mailbox",
		InputParams: []Param{{Name: "numEmails", Type: "int", Default: 10}},
		Output:      OutputSpec{Type: "list"},
		State:       StateDeps{Writes: []string{"emails"}},
	}
	r, err := NewRegistry(Registered{Manifest: m, Run: noopRunner})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	desc := r.Describe()
	got, ok := desc["fetch"]
	if !ok {
		t.Fatalf("Describe() missing fetch")
	}
	if got.Description != m.Description {
		t.Fatalf("Description = %q, want %q", got.Description, m.Description)
	}
	if len(got.InputParams) != 1 || got.InputParams[0].Name != "numEmails" {
		t.Fatalf("InputParams = %v, want numEmails", got.InputParams)
	}
}
