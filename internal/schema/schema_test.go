package schema

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"testing/quick"
)

func TestExamplesValidate(t *testing.T) {
	reg := Default()
	for _, name := range reg.Names() {
		s, _ := reg.Lookup(name)
		ok, errs := reg.Validate(name, s.ExampleRecord())
		if !ok || len(errs) != 0 {
			t.Errorf("%s example invalid: %v", name, errs)
		}
	}
}

func TestExamplesValidateAfterJSONRoundTrip(t *testing.T) {
	reg := Default()
	for _, name := range reg.Names() {
		s, _ := reg.Lookup(name)
		b, err := json.Marshal(s.Example)
		if err != nil {
			t.Fatalf("marshal %s: %v", name, err)
		}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decode %s: %v", name, err)
		}
		if ok, errs := reg.Validate(name, rec); !ok {
			t.Errorf("%s decoded example invalid: %v", name, errs)
		}
	}
}

func TestUnknownArtifactType(t *testing.T) {
	ok, errs := Default().Validate("nope", map[string]any{})
	if ok {
		t.Fatalf("expected invalid")
	}
	if len(errs) != 1 || errs[0] != "Unknown artifact type: nope" {
		t.Fatalf("unexpected errors %v", errs)
	}
}

func TestMissingRequiredFields(t *testing.T) {
	reg := Default()
	s, _ := reg.Lookup(ExecutionContext)
	f := func(mask uint8) bool {
		rec := s.ExampleRecord()
		var dropped []string
		for i, field := range s.Required {
			if mask&(1<<i) != 0 {
				delete(rec, field)
				dropped = append(dropped, field)
			}
		}
		ok, errs := reg.Validate(ExecutionContext, rec)
		if ok != (len(errs) == 0) {
			return false
		}
		if len(errs) != len(dropped) {
			return false
		}
		for i, field := range dropped {
			if errs[i] != "Missing required field: "+field {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatalf("property check failed: %v", err)
	}
}

func TestWrongTypes(t *testing.T) {
	reg := Default()
	rec := map[string]any{
		"session_id": "s1",
		"turn_id":    "seven",
		"agent_id":   "summarizer",
		"model_id":   "m",
		"timestamp":  "2025-11-11T09:15:23Z",
		"cache_hit":  1,
		"extra":      struct{}{},
	}
	ok, errs := reg.Validate(ExecutionContext, rec)
	if ok {
		t.Fatalf("expected invalid")
	}
	want := []string{
		"Field 'cache_hit' has wrong type. Expected boolean, got integer",
		"Field 'turn_id' has wrong type. Expected integer, got string",
	}
	if strings.Join(errs, "\n") != strings.Join(want, "\n") {
		t.Fatalf("errors = %q, want %q", errs, want)
	}
}

func TestMissingAndWrongTypeAccumulate(t *testing.T) {
	ok, errs := Default().Validate(BoundaryEvent, map[string]any{"event_id": 5})
	if ok {
		t.Fatalf("expected invalid")
	}
	// 5 missing required fields plus one type error.
	if len(errs) != 6 {
		t.Fatalf("expected 6 errors, got %d: %v", len(errs), errs)
	}
	if !strings.HasPrefix(errs[5], "Field 'event_id' has wrong type") {
		t.Fatalf("type error should follow missing-field errors: %v", errs)
	}
}

func TestMultiTypeFields(t *testing.T) {
	reg := Default()
	s, _ := reg.Lookup(QualityTrajectories)
	for _, score := range []any{8, 8.5, json.Number("8"), json.Number("8.5")} {
		rec := s.ExampleRecord()
		rec["score"] = score
		if ok, errs := reg.Validate(QualityTrajectories, rec); !ok {
			t.Errorf("score %v rejected: %v", score, errs)
		}
	}
	rec := s.ExampleRecord()
	rec["score"] = "high"
	if ok, _ := reg.Validate(QualityTrajectories, rec); ok {
		t.Errorf("string score should be rejected")
	}
}

func TestAliasesShareSchema(t *testing.T) {
	reg := Default()
	a, _ := reg.Lookup("agent_graph")
	b, _ := reg.Lookup(ReasoningGraphEdge)
	if a == nil || a != b {
		t.Fatalf("agent_graph should resolve to the reasoning_graph_edge schema")
	}
	c, _ := reg.Lookup("boundary_events")
	d, _ := reg.Lookup(BoundaryEvent)
	if c == nil || c != d {
		t.Fatalf("boundary_events should resolve to the boundary_event schema")
	}
	if reg.Resolve("agent_graph") != ReasoningGraphEdge || reg.Resolve("x") != "x" {
		t.Fatalf("Resolve mismatch")
	}
	for _, name := range reg.Names() {
		if name == "agent_graph" || name == "boundary_events" {
			t.Fatalf("Names should not list aliases")
		}
	}
	if len(reg.Names()) != 11 {
		t.Fatalf("expected 11 artifact types, got %d", len(reg.Names()))
	}
}

func TestConsistency(t *testing.T) {
	if problems := Default().Consistency(); len(problems) != 0 {
		t.Fatalf("builtin schemas inconsistent: %v", problems)
	}
	reg, err := NewRegistry([]Schema{{Name: "x", Required: []string{"a"}}}, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if problems := reg.Consistency(); len(problems) != 1 {
		t.Fatalf("expected one problem, got %v", problems)
	}
}

func TestNewRegistryRejectsBadAliases(t *testing.T) {
	if _, err := NewRegistry([]Schema{{Name: "a"}}, map[string]string{"b": "missing"}); err == nil {
		t.Fatalf("expected error for alias to unknown type")
	}
	if _, err := NewRegistry([]Schema{{Name: "a"}, {Name: "a"}}, nil); err == nil {
		t.Fatalf("expected error for duplicate type")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		value any
		want  Kind
	}{
		{"s", String},
		{3, Integer},
		{int64(3), Integer},
		{uint8(3), Integer},
		{3.5, Float},
		{json.Number("3"), Integer},
		{json.Number("3.0"), Float},
		{json.Number("1e3"), Float},
		{true, Boolean},
		{[]any{1}, List},
		{[]string{"a"}, List},
		{map[string]any{}, Map},
		{map[string]int{}, Map},
		{nil, Null},
		{struct{}{}, Invalid},
	}
	for _, tc := range cases {
		if got := KindOf(tc.value); got != tc.want {
			t.Errorf("KindOf(%#v) = %s, want %s", tc.value, got, tc.want)
		}
	}
}

func TestTypeAccepts(t *testing.T) {
	if TInt.Accepts(true) {
		t.Errorf("booleans must not satisfy integer")
	}
	if !TFloat.Accepts(1) {
		t.Errorf("integers should satisfy float")
	}
	if TInt.Accepts(1.5) {
		t.Errorf("floats must not satisfy integer")
	}
	n := Nullable(String)
	if !n.Accepts(nil) || !n.Accepts("x") || n.Accepts(1) {
		t.Errorf("nullable string mismatch")
	}
	if TNumber.String() != "integer|float" {
		t.Errorf("TNumber.String() = %q", TNumber.String())
	}
}
