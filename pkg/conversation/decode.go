package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Variant is one arm of a tagged union over tool outputs: the tool names it
// accepts and a strict decoder for their output.
type Variant[T any] struct {
	Tools  []string
	Decode func(json.RawMessage) (T, error)
}

func (v Variant[T]) accepts(tool string) bool {
	for _, name := range v.Tools {
		if name == tool {
			return true
		}
	}
	return false
}

// Match decodes a completed tool-result part against the variants in order.
// The first variant that accepts the tool and decodes cleanly wins; anything
// else is reported as no match, never as an error.
func Match[T any](p Part, variants ...Variant[T]) (T, bool) {
	var zero T
	if !p.Completed() {
		return zero, false
	}
	for _, v := range variants {
		if !v.accepts(p.ToolName) || v.Decode == nil {
			continue
		}
		out, err := v.Decode(p.Output)
		if err != nil {
			continue
		}
		return out, true
	}
	return zero, false
}

// DecodeStrict unmarshals a JSON object into T and runs check over it.
// Non-object payloads and type mismatches fail.
func DecodeStrict[T any](raw json.RawMessage, check func(*T) error) (T, error) {
	var out T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return out, fmt.Errorf("expected JSON object")
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return out, err
	}
	if check != nil {
		if err := check(&out); err != nil {
			return out, err
		}
	}
	return out, nil
}

// RequireKeys fails unless every key is present in the JSON object. Used by
// decoders whose zero values are legal and so cannot signal absence.
func RequireKeys(raw json.RawMessage, keys ...string) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	for _, k := range keys {
		v, ok := m[k]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return fmt.Errorf("missing field %q", k)
		}
	}
	return nil
}
