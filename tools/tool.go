// Package tools provides the tool catalog, routing and execution layer.
//
// Information Hiding:
// - Wire shape of tool schemas hidden behind Schema/Catalog helpers
// - Routing table implementation hidden in Registry
// - Retry and validation policy hidden in Executor
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Property describes one parameter of a tool.
type Property struct {
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON accepts "type" as a string or a list of strings, keeping the
// first non-null entry of a list.
func (p *Property) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        json.RawMessage `json:"type"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Description = raw.Description
	p.Type = ""
	if len(raw.Type) == 0 {
		return nil
	}
	if raw.Type[0] == '[' {
		var types []string
		if err := json.Unmarshal(raw.Type, &types); err != nil {
			return err
		}
		for _, t := range types {
			if t != "null" {
				p.Type = t
				break
			}
		}
		return nil
	}
	return json.Unmarshal(raw.Type, &p.Type)
}

// Parameters is the JSON-schema-like argument description of a tool.
type Parameters struct {
	Type       string              `json:"type,omitempty"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// Function is the callable part of a tool schema.
type Function struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  Parameters `json:"parameters"`
}

// Schema is the wire shape of one tool:
// {"type":"function","function":{"name","description","parameters"}}.
type Schema struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`

	// InputSchema is the full JSON schema advertised by the tool server, kept
	// for argument validation. Not part of the wire shape.
	InputSchema json.RawMessage `json:"-"`
}

// NewSchema builds a function schema.
func NewSchema(name, description string, params Parameters) Schema {
	if params.Type == "" {
		params.Type = "object"
	}
	if params.Properties == nil {
		params.Properties = map[string]Property{}
	}
	return Schema{Type: "function", Function: Function{Name: name, Description: description, Parameters: params}}
}

// FromInputSchema converts an MCP tool listing entry into a Schema. Unknown
// schema keywords are ignored here but preserved in InputSchema.
func FromInputSchema(name, description string, inputSchema json.RawMessage) (Schema, error) {
	var params Parameters
	if len(inputSchema) > 0 && string(inputSchema) != "null" {
		if err := json.Unmarshal(inputSchema, &params); err != nil {
			return Schema{}, fmt.Errorf("tool %s: invalid input schema: %w", name, err)
		}
	}
	s := NewSchema(name, description, params)
	s.InputSchema = inputSchema
	return s, nil
}

// Name is shorthand for Function.Name.
func (s Schema) Name() string { return s.Function.Name }

// ParamNames returns parameter names in sorted order.
func (s Schema) ParamNames() []string {
	names := make([]string, 0, len(s.Function.Parameters.Properties))
	for name := range s.Function.Parameters.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRequired reports whether param is listed as required.
func (s Schema) IsRequired(param string) bool {
	for _, r := range s.Function.Parameters.Required {
		if r == param {
			return true
		}
	}
	return false
}

// String returns "name: description".
func (s Schema) String() string {
	return fmt.Sprintf("%s: %s", s.Function.Name, s.Function.Description)
}

// Catalog is an ordered list of tool schemas.
type Catalog []Schema

// Names returns the tool names in catalog order.
func (c Catalog) Names() []string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Function.Name
	}
	return names
}

// Lookup finds a schema by name.
func (c Catalog) Lookup(name string) (Schema, bool) {
	for _, s := range c {
		if s.Function.Name == name {
			return s, true
		}
	}
	return Schema{}, false
}

// Has reports whether a tool with this name exists.
func (c Catalog) Has(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// Summary renders each tool as "- name: desc\n  Parameters: a, b", the
// compact form used in tool-calling prompts.
func (c Catalog) Summary() string {
	lines := make([]string, 0, len(c))
	for _, s := range c {
		lines = append(lines, fmt.Sprintf("- %s: %s\n  Parameters: %s",
			s.Function.Name, s.Function.Description, strings.Join(s.ParamNames(), ", ")))
	}
	return strings.Join(lines, "\n")
}

// Result is the outcome of one tool execution. Success is Err == nil.
type Result struct {
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name"`
	Output string `json:"output"`
	Err    error  `json:"-"`
}

// MarshalJSON includes the error text when the call failed.
func (r Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		CallID  string `json:"call_id,omitempty"`
		Name    string `json:"name"`
		Success bool   `json:"success"`
		Output  string `json:"output"`
		Error   string `json:"error,omitempty"`
	}
	w := wire{CallID: r.CallID, Name: r.Name, Success: r.Err == nil, Output: r.Output}
	if r.Err != nil {
		w.Error = r.Err.Error()
	}
	return json.Marshal(w)
}

// Success returns true if the tool execution succeeded.
func (r Result) Success() bool {
	return r.Err == nil
}

// Text is what the model sees: the output, or the error rendered as text.
func (r Result) Text() string {
	if r.Err != nil {
		return fmt.Sprintf("Error calling tool %s: %v", r.Name, r.Err)
	}
	return r.Output
}

// Invoker performs a remote tool call by name. mcp.Pool implements it.
type Invoker interface {
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}
