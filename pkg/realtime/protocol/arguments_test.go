package protocol

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestArguments_RoundTrip(t *testing.T) {
	cases := []map[string]any{
		{},
		{"category": "sneakers"},
		{"category": "zapatillas", "color": "rojas", "max_price": float64(100)},
		{"nested": map[string]any{"a": []any{"x", float64(1), true}}},
	}
	for _, m := range cases {
		encoded, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		got, ok := EncodedArguments(string(encoded)).Normalize()
		if !ok {
			t.Fatalf("Normalize(%s) ok=false", encoded)
		}
		if diff := cmp.Diff(m, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestArguments_NormalizeMalformedYieldsEmptyObject(t *testing.T) {
	for _, raw := range []string{"not valid json", "", "[1,2]", "42", `{"category":`} {
		got, ok := EncodedArguments(raw).Normalize()
		if ok {
			t.Fatalf("Normalize(%q) ok=true", raw)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("Normalize(%q)=%v, want empty object", raw, got)
		}
	}
}

func TestArguments_UnmarshalAcceptsStringOrObject(t *testing.T) {
	var fromString, fromObject Arguments
	if err := json.Unmarshal([]byte(`"{\"color\":\"red\"}"`), &fromString); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"color":"red"}`), &fromObject); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	if fromString.IsStructured() || !fromObject.IsStructured() {
		t.Fatalf("kinds: string=%v object=%v", fromString.IsStructured(), fromObject.IsStructured())
	}
	a, _ := fromString.Normalize()
	b, _ := fromObject.Normalize()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("normalized forms differ:\n%s", diff)
	}
	if fromObject.Canonical() != `{"color":"red"}` {
		t.Fatalf("canonical=%q", fromObject.Canonical())
	}
}

func TestArguments_UnmarshalNeverFails(t *testing.T) {
	var out Output
	if err := json.Unmarshal([]byte(`{"type":"function_call","arguments":[1,2]}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := out.Arguments.Normalize(); ok {
		t.Fatalf("array arguments normalized")
	}
}

func TestArguments_MarshalCanonical(t *testing.T) {
	raw, err := json.Marshal(StructuredArguments(map[string]any{"category": "shirts"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"{\"category\":\"shirts\"}"` {
		t.Fatalf("marshal=%s", raw)
	}
}

func TestArgumentValidator_FilterProducts(t *testing.T) {
	v, err := NewArgumentValidator(FilterProductsTool())
	if err != nil {
		t.Fatalf("NewArgumentValidator() error = %v", err)
	}
	if err := v.Validate(map[string]any{"category": "sneakers", "max_price": float64(50)}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if err := v.Validate(map[string]any{"color": "red"}); err == nil {
		t.Fatalf("missing category accepted")
	}
	if err := v.Validate(map[string]any{"category": "x", "max_price": "cheap"}); err == nil {
		t.Fatalf("string max_price accepted")
	}
}
