// Package tools holds the callable tools an agent may expose to the
// model: plain user tools invoked for their result, and route tools
// whose invocation requests an agent handoff.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrUnknownTool marks a tool name that resolves in neither namespace.
var ErrUnknownTool = errors.New("unknown tool")

// SchemaError reports route tool schema metadata that cannot produce a
// valid model-visible schema.
type SchemaError struct {
	Tool   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %q: %s", e.Tool, e.Reason)
}

// Tool is either a *UserTool or a *RouteTool.
type Tool interface {
	ToolName() string
}

// Handler executes a user tool against its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// UserTool is an arbitrary callable surfaced to the model. Its return
// value goes back into the conversation verbatim.
type UserTool struct {
	Name        string
	Description string
	Handler     Handler

	schema *Schema
}

func (t *UserTool) ToolName() string { return t.Name }

// Schema returns the cached model-visible schema.
func (t *UserTool) Schema() *Schema { return t.schema }

// NewUserTool builds a user tool from a typed handler. The parameter
// schema derives from T's fields in declaration order.
func NewUserTool[T any](name, description string, fn func(ctx context.Context, input T) (string, error)) (*UserTool, error) {
	if name == "" {
		return nil, fmt.Errorf("tools: user tool name is required")
	}
	var zero T
	params, err := schemaFromStruct(reflect.TypeOf(zero))
	if err != nil {
		return nil, fmt.Errorf("tools: %s: %w", name, err)
	}
	handler := func(ctx context.Context, raw json.RawMessage) (string, error) {
		var input T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &input); err != nil {
				return "", fmt.Errorf("parse arguments: %w", err)
			}
		}
		return fn(ctx, input)
	}
	return &UserTool{
		Name:        name,
		Description: description,
		Handler:     handler,
		schema: &Schema{
			Type:        "function",
			Name:        name,
			Description: description,
			Parameters:  params,
		},
	}, nil
}

// RouteCall is the fixed contract a route tool function receives. The
// current/target values come from the fields the schema params name;
// summary and reason are taken from the like-named arguments when
// present. Args carries everything the model sent.
type RouteCall struct {
	CurrentAgent string
	TargetAgent  string
	Summary      string
	Reason       string
	Args         map[string]any
}

// RouteFunc is invoked for side effect only; its return value is never
// surfaced to the model.
type RouteFunc func(ctx context.Context, call RouteCall) (string, error)

// Field is one declared route tool parameter.
type Field struct {
	Name        string
	Description string
}

// RouteSchemaParams is the declared metadata a route tool needs before
// a roster-aware schema can be built for it.
type RouteSchemaParams struct {
	Description       string
	Fields            []Field
	CurrentAgentField string
	TargetAgentField  string
	// Required lists the mandatory fields; nil means all of them.
	Required []string
}

// RouteTool requests an agent handoff when invoked.
type RouteTool struct {
	Name    string
	Handler RouteFunc
	Params  RouteSchemaParams

	// schema is roster-dependent and rebuilt whenever the roster is
	// known; see BuildToolSchemas.
	schema *Schema
}

func (t *RouteTool) ToolName() string { return t.Name }

// Schema returns the last roster-aware schema built for this tool, or
// nil before the first build.
func (t *RouteTool) Schema() *Schema { return t.schema }

// TargetAgentField names the argument that carries the handoff target.
func (t *RouteTool) TargetAgentField() string { return t.Params.TargetAgentField }

// RequiredFields resolves the effective required list.
func (t *RouteTool) RequiredFields() []string {
	if t.Params.Required != nil {
		return t.Params.Required
	}
	names := make([]string, 0, len(t.Params.Fields))
	for _, f := range t.Params.Fields {
		names = append(names, f.Name)
	}
	return names
}

// validateParams checks the declared metadata before a schema build.
func (t *RouteTool) validateParams() error {
	p := t.Params
	if p.Description == "" {
		return &SchemaError{Tool: t.Name, Reason: "schema description is missing"}
	}
	if len(p.Fields) == 0 {
		return &SchemaError{Tool: t.Name, Reason: "no schema fields declared"}
	}
	declared := make(map[string]struct{}, len(p.Fields))
	for _, f := range p.Fields {
		if f.Name == "" || f.Description == "" {
			return &SchemaError{Tool: t.Name, Reason: "every schema field needs a name and description"}
		}
		if _, dup := declared[f.Name]; dup {
			return &SchemaError{Tool: t.Name, Reason: fmt.Sprintf("duplicate schema field %q", f.Name)}
		}
		declared[f.Name] = struct{}{}
	}
	if p.CurrentAgentField == "" {
		return &SchemaError{Tool: t.Name, Reason: "current-agent field is not designated"}
	}
	if _, ok := declared[p.CurrentAgentField]; !ok {
		return &SchemaError{Tool: t.Name, Reason: fmt.Sprintf("current-agent field %q is not declared", p.CurrentAgentField)}
	}
	if p.TargetAgentField == "" {
		return &SchemaError{Tool: t.Name, Reason: "target-agent field is not designated"}
	}
	if _, ok := declared[p.TargetAgentField]; !ok {
		return &SchemaError{Tool: t.Name, Reason: fmt.Sprintf("target-agent field %q is not declared", p.TargetAgentField)}
	}
	for _, r := range p.Required {
		if _, ok := declared[r]; !ok {
			return &SchemaError{Tool: t.Name, Reason: fmt.Sprintf("required field %q is not declared", r)}
		}
	}
	return nil
}

// Registry resolves tool names against the user and route namespaces.
// Registration is explicit; there is no package-level registry.
type Registry struct {
	user  map[string]*UserTool
	route map[string]*RouteTool
}

func NewRegistry() *Registry {
	return &Registry{
		user:  make(map[string]*UserTool),
		route: make(map[string]*RouteTool),
	}
}

func (r *Registry) RegisterUser(t *UserTool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tools: user tool needs a name")
	}
	if _, exists := r.user[t.Name]; exists {
		return fmt.Errorf("tools: user tool %q already registered", t.Name)
	}
	r.user[t.Name] = t
	return nil
}

func (r *Registry) RegisterRoute(t *RouteTool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tools: route tool needs a name")
	}
	if _, exists := r.route[t.Name]; exists {
		return fmt.Errorf("tools: route tool %q already registered", t.Name)
	}
	r.route[t.Name] = t
	return nil
}

// User looks up a user tool by name.
func (r *Registry) User(name string) (*UserTool, bool) {
	t, ok := r.user[name]
	return t, ok
}

// Route looks up a route tool by name.
func (r *Registry) Route(name string) (*RouteTool, bool) {
	t, ok := r.route[name]
	return t, ok
}

// IsRoute reports whether the name belongs to the route namespace.
func (r *Registry) IsRoute(name string) bool {
	_, ok := r.route[name]
	return ok
}
