// Package tools holds the local capabilities the model may ask the
// orchestrator to run, and the dispatcher that runs them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// ParamType is the JSON-schema primitive type of a parameter.
type ParamType string

const (
	TypeString ParamType = "string"
	TypeNumber ParamType = "number"
)

// Parameter describes one named argument of a tool.
type Parameter struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Declaration is what the model sees of a tool.
type Declaration struct {
	Name        string
	Description string
	Parameters  []Parameter
}

// Schema renders the parameters as a JSON-schema object.
func (d Declaration) Schema() map[string]any {
	props := make(map[string]any, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Call is a tool invocation requested by the model.
type Call struct {
	Name      string
	Arguments map[string]any
}

// SessionContext is the only request state a tool can see.
type SessionContext struct {
	SessionID string
}

// Tool is one capability. Implementations decode their own arguments and
// report failures through the returned Result.
type Tool interface {
	Declaration() Declaration
	Call(ctx context.Context, args map[string]any, sc SessionContext) Result
}

// Result is either a success payload or an error reason. It is always a
// value: tool failures never abort an orchestration.
type Result struct {
	payload any
	err     string
}

func OK(payload any) Result {
	return Result{payload: payload}
}

func Errorf(format string, args ...any) Result {
	return Result{err: fmt.Sprintf(format, args...)}
}

func (r Result) IsError() bool { return r.err != "" }

// Err returns the error reason, or "" on success.
func (r Result) Err() string { return r.err }

func (r Result) Payload() any { return r.payload }

// MarshalJSON encodes the payload, or {"error": reason} on failure.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.err != "" {
		return json.Marshal(map[string]string{"error": r.err})
	}
	if r.payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.payload)
}

// decodeArgs maps loosely-typed model arguments onto a typed struct.
func decodeArgs(args map[string]any, dst any) error {
	if len(args) == 0 {
		return nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
