package tool

import (
	"errors"
	"reflect"
	"testing"
)

// fakeState is a minimal StateReader for binder tests.
type fakeState struct {
	constants map[string]any
	vars      map[string]any
}

func (f *fakeState) Constant(name string) (any, bool) {
	v, ok := f.constants[name]
	return v, ok
}

func (f *fakeState) Get(key string) (any, bool) {
	v, ok := f.vars[key]
	return v, ok
}

func TestBind_ConstantWinsOverState(t *testing.T) {
	m := Manifest{
		Name: "fetch",
		InputParams: []Param{
			{Name: "numEmails", Type: "int", Required: false, Default: 10},
		},
	}
	st := &fakeState{
		constants: map[string]any{"numEmails": 3},
		vars:      map[string]any{"numEmails": 99},
	}

	args, err := Bind(m, st)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if args["numEmails"] != 3 {
		t.Fatalf("numEmails = %v, want 3 (constant must win)", args["numEmails"])
	}
}

func TestBind_ReadsStateKey(t *testing.T) {
	m := Manifest{
		Name: "classify",
		InputParams: []Param{
			{Name: "emails", Type: "list", Required: true},
		},
	}
	emails := []map[string]any{{"subject": "a"}}
	st := &fakeState{vars: map[string]any{"emails": emails}}

	args, err := Bind(m, st)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if !reflect.DeepEqual(args["emails"], emails) {
		t.Fatalf("emails = %v, want %v", args["emails"], emails)
	}
}

func TestBind_FilterKeepsMatchingInOrder(t *testing.T) {
	m := Manifest{
		Name: "summarize",
		InputParams: []Param{
			{
				Name:     "newsletters",
				Type:     "list",
				Required: true,
				Filter:   &FilterSpec{Field: "isNewsletter", Value: true},
			},
		},
	}
	source := []map[string]any{
		{"subject": "a", "isNewsletter": true},
		{"subject": "b", "isNewsletter": false},
		{"subject": "c", "isNewsletter": true},
		{"subject": "d"},
	}
	st := &fakeState{vars: map[string]any{"newsletters": source}}

	args, err := Bind(m, st)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}

	got, ok := args["newsletters"].([]map[string]any)
	if !ok {
		t.Fatalf("newsletters type = %T, want []map[string]any", args["newsletters"])
	}
	if len(got) != 2 || got[0]["subject"] != "a" || got[1]["subject"] != "c" {
		t.Fatalf("filtered = %v, want subjects [a c] in order", got)
	}

	// Copy semantics: the source list in state must be untouched.
	if len(source) != 4 {
		t.Fatalf("source length = %d, want 4 (no mutation)", len(source))
	}
	if source[1]["subject"] != "b" {
		t.Fatalf("source mutated: %v", source)
	}
}

func TestBind_FilterHandlesAnySlices(t *testing.T) {
	m := Manifest{
		Name: "render",
		InputParams: []Param{
			{
				Name:     "items",
				Type:     "list",
				Required: true,
				Filter:   &FilterSpec{Field: "keep", Value: true},
			},
		},
	}
	// JSON decoding produces []any of map[string]any.
	st := &fakeState{vars: map[string]any{"items": []any{
		map[string]any{"id": 1, "keep": true},
		map[string]any{"id": 2, "keep": false},
	}}}

	args, err := Bind(m, st)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	got := args["items"].([]map[string]any)
	if len(got) != 1 || got[0]["id"] != 1 {
		t.Fatalf("filtered = %v, want single item id=1", got)
	}
}

func TestBind_MissingRequiredFails(t *testing.T) {
	m := Manifest{
		Name: "summarize",
		InputParams: []Param{
			{Name: "newsletters", Type: "list", Required: true},
		},
	}
	st := &fakeState{vars: map[string]any{"newsletters": nil}}

	_, err := Bind(m, st)
	if err == nil {
		t.Fatalf("Bind() error = nil, want MissingParameterError")
	}
	var missing *MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("Bind() error type = %T, want *MissingParameterError", err)
	}
	if missing.Tool != "summarize" || missing.Param != "newsletters" {
		t.Fatalf("error = %v, want tool summarize param newsletters", missing)
	}
}

func TestBind_OptionalUsesDefault(t *testing.T) {
	m := Manifest{
		Name: "fetch",
		InputParams: []Param{
			{Name: "numEmails", Type: "int", Required: false, Default: 10},
		},
	}
	st := &fakeState{}

	args, err := Bind(m, st)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if args["numEmails"] != 10 {
		t.Fatalf("numEmails = %v, want default 10", args["numEmails"])
	}
}

func TestValuesEqual_NumericWidening(t *testing.T) {
	if !valuesEqual(float64(1), 1) {
		t.Fatalf("valuesEqual(1.0, 1) = false, want true")
	}
	if valuesEqual(true, false) {
		t.Fatalf("valuesEqual(true, false) = true, want false")
	}
	if !valuesEqual("x", "x") {
		t.Fatalf("valuesEqual(x, x) = false, want true")
	}
}
