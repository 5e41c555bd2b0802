package tools

import (
	"fmt"
	"strings"
)

// Roster is the live agent set a route tool schema embeds: valid
// handoff targets plus their descriptions.
type Roster struct {
	Names        []string
	Descriptions map[string]string
}

// BuildToolSchemas resolves each declared tool name (user namespace
// first, then route) and produces the ordered schema list plus the
// name→tool map an agent connection dispatches against. Route tool
// schemas are rebuilt here because they depend on the roster.
func BuildToolSchemas(toolNames []string, reg *Registry, roster Roster) ([]*Schema, map[string]Tool, error) {
	schemas := make([]*Schema, 0, len(toolNames))
	toolMap := make(map[string]Tool, len(toolNames))

	for _, name := range toolNames {
		if _, dup := toolMap[name]; dup {
			return nil, nil, fmt.Errorf("tools: %q listed twice", name)
		}
		if ut, ok := reg.User(name); ok {
			schemas = append(schemas, ut.Schema())
			toolMap[name] = ut
			continue
		}
		rt, ok := reg.Route(name)
		if !ok {
			return nil, nil, fmt.Errorf("tools: %q: %w", name, ErrUnknownTool)
		}
		schema, err := buildRouteSchema(rt, roster)
		if err != nil {
			return nil, nil, err
		}
		rt.schema = schema
		schemas = append(schemas, schema)
		toolMap[name] = rt
	}
	return schemas, toolMap, nil
}

// buildRouteSchema renders a route tool schema with the roster folded
// in: the target field is constrained to the known agent names and the
// description gains a one-line summary of each agent.
func buildRouteSchema(rt *RouteTool, roster Roster) (*Schema, error) {
	if err := rt.validateParams(); err != nil {
		return nil, err
	}

	params := &ObjectSchema{
		Properties: make([]Property, 0, len(rt.Params.Fields)),
		Required:   rt.RequiredFields(),
	}
	for _, f := range rt.Params.Fields {
		prop := Property{Name: f.Name, Type: "string", Description: f.Description}
		if f.Name == rt.Params.TargetAgentField && len(roster.Names) > 0 {
			prop.Enum = append([]string(nil), roster.Names...)
		}
		params.Properties = append(params.Properties, prop)
	}

	return &Schema{
		Type:        "function",
		Name:        rt.Name,
		Description: routeDescription(rt.Params.Description, roster),
		Parameters:  params,
	}, nil
}

func routeDescription(base string, roster Roster) string {
	if len(roster.Names) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString(" Available agents:")
	for _, name := range roster.Names {
		b.WriteString("\n- ")
		b.WriteString(name)
		if desc := roster.Descriptions[name]; desc != "" {
			b.WriteString(": ")
			b.WriteString(desc)
		}
	}
	return b.String()
}
