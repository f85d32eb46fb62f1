package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/odvcencio/excella/pkg/errors"
)

// ParameterSchema is the JSON Schema object describing a tool's input.
type ParameterSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties"`
	Required   []string                  `json:"required"`
}

// PropertySchema describes one input field. Items applies to arrays,
// Properties to objects and Enum to closed string sets.
type PropertySchema struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description"`
	Default     any                       `json:"default,omitempty"`
	Enum        []string                  `json:"enum,omitempty"`
	Items       *PropertySchema           `json:"items,omitempty"`
	Properties  map[string]PropertySchema `json:"properties,omitempty"`
}

// Result is what a tool hands back to the registry. Data is recorded as
// the tool output when Success is set, Error as the tool error otherwise.
// Tools with bulky output set ShouldAbridge and put a summary in
// DisplayData for event subscribers.
type Result struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	Code          string         `json:"code,omitempty"`
	ShouldAbridge bool           `json:"should_abridge,omitempty"`
	DisplayData   map[string]any `json:"display_data,omitempty"`
}

// Succeed wraps any JSON-encodable output in a successful result.
func Succeed(output any) (*Result, error) {
	data, ok := output.(map[string]any)
	if !ok {
		data = map[string]any{}
		if err := roundTrip(output, &data); err != nil {
			return nil, fmt.Errorf("encode tool output: %w", err)
		}
	}
	return &Result{Success: true, Data: data}, nil
}

// Fail turns err into an unsuccessful result carrying its user-facing
// message and, for structured errors, its code.
func Fail(err error) *Result {
	res := &Result{Error: "tool failed"}
	if err == nil {
		return res
	}
	res.Error = errors.UserFacing(err)
	if e, ok := errors.As(err); ok {
		res.Code = string(e.Code)
	}
	return res
}

// roundTrip copies src into dst through its JSON encoding.
func roundTrip(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// decodeParams maps loosely typed call parameters onto a typed input.
func decodeParams(params map[string]any, dst any) error {
	if err := roundTrip(params, dst); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid parameters").
			WithUserMessage(fmt.Sprintf("Invalid tool parameters: %v", err))
	}
	return nil
}
