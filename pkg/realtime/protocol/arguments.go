package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

type argumentsKind uint8

const (
	argumentsEncoded argumentsKind = iota
	argumentsStructured
)

// Arguments holds tool-call arguments as delivered by the model: either an
// encoded JSON string or an already structured object.
type Arguments struct {
	kind       argumentsKind
	encoded    string
	structured map[string]any
}

func EncodedArguments(s string) Arguments {
	return Arguments{kind: argumentsEncoded, encoded: s}
}

func StructuredArguments(m map[string]any) Arguments {
	return Arguments{kind: argumentsStructured, structured: m}
}

func (a Arguments) IsStructured() bool { return a.kind == argumentsStructured }

// UnmarshalJSON accepts a JSON string or a JSON object. Anything else is kept
// verbatim as encoded text and fails normalization later.
func (a *Arguments) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*a = EncodedArguments("")
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			*a = EncodedArguments(string(trimmed))
			return nil
		}
		*a = EncodedArguments(s)
	case trimmed[0] == '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			*a = EncodedArguments(string(trimmed))
			return nil
		}
		*a = StructuredArguments(m)
	default:
		*a = EncodedArguments(string(trimmed))
	}
	return nil
}

// MarshalJSON always emits the canonical encoded string.
func (a Arguments) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Canonical())
}

// Normalize returns the arguments as an object. ok is false when encoded text
// does not decode to a JSON object; the returned map is then empty.
func (a Arguments) Normalize() (map[string]any, bool) {
	if a.kind == argumentsStructured {
		if a.structured == nil {
			return map[string]any{}, true
		}
		return a.structured, true
	}
	if strings.TrimSpace(a.encoded) == "" {
		return map[string]any{}, false
	}
	var v any
	if err := json.Unmarshal([]byte(a.encoded), &v); err != nil {
		return map[string]any{}, false
	}
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return map[string]any{}, false
	}
	return m, true
}

// Canonical returns the encoded string form. Structured arguments are
// serialized; encoded arguments are returned exactly as received.
func (a Arguments) Canonical() string {
	if a.kind == argumentsEncoded {
		return a.encoded
	}
	if a.structured == nil {
		return "{}"
	}
	b, err := json.Marshal(a.structured)
	if err != nil {
		return "{}"
	}
	return string(b)
}
