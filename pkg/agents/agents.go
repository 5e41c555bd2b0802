// Package agents loads and validates the agent roster: the named model
// configurations a session can hand off between.
package agents

import (
	"encoding/json"
	"fmt"

	"github.com/vango-go/vai-switchboard/pkg/agents/tools"
	"github.com/vango-go/vai-switchboard/pkg/realtime"
)

// ConfigError is fatal at startup; the gateway must not serve traffic
// with an invalid roster.
type ConfigError struct {
	Agent  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Agent == "" {
		return "agents: " + e.Reason
	}
	return fmt.Sprintf("agents: agent %q: %s", e.Agent, e.Reason)
}

func configErrf(agent, format string, args ...any) *ConfigError {
	return &ConfigError{Agent: agent, Reason: fmt.Sprintf(format, args...)}
}

// DefaultSwitchNotification is what the model is told a route tool
// returned. Implementation details never reach the model.
const DefaultSwitchNotification = "Agent switched"

// Definition is one immutable agent configuration.
type Definition struct {
	Name        string
	Description string

	Model              string
	Temperature        float64
	Voice              string
	TurnDetection      map[string]any
	InputTranscription map[string]any
	Instructions       string

	// SwitchContext is a template appended to Instructions on handoff;
	// {field} placeholders are filled from the route arguments.
	SwitchContext string
	// SwitchNotification is the tool output surfaced to the model when
	// this agent's route tool fires.
	SwitchNotification string
	// SwitchUserMessage, when set, is sent as a synthetic user message
	// after a handoff so the agent acknowledges the new context.
	SwitchUserMessage string

	InitialUserMessage string
	ToolChoice         string

	// ToolNames is the permitted tool list after single-agent
	// filtering; resolved objects and schemas are derived from it.
	ToolNames   []string
	ToolMap     map[string]tools.Tool
	SchemasJSON json.RawMessage
}

// SessionParams renders the definition as the upstream session-update
// payload. Zero-valued fields stay unset so the upstream keeps its own
// defaults.
func (d *Definition) SessionParams() realtime.SessionParams {
	params := realtime.SessionParams{
		Temperature:             d.Temperature,
		Voice:                   d.Voice,
		Instructions:            d.Instructions,
		TurnDetection:           d.TurnDetection,
		InputAudioTranscription: d.InputTranscription,
	}
	if len(d.SchemasJSON) > 0 {
		params.Tools = d.SchemasJSON
		params.ToolChoice = d.ToolChoice
	}
	return params
}

// RouteTool returns this agent's route tool, if its tool list has one.
func (d *Definition) RouteTool() (*tools.RouteTool, bool) {
	for _, t := range d.ToolMap {
		if rt, ok := t.(*tools.RouteTool); ok {
			return rt, true
		}
	}
	return nil, false
}

// Roster is the ordered, validated agent set for this process.
type Roster struct {
	agents []*Definition
	byName map[string]*Definition

	// SingleAgent suppresses route tool registration: one agent cannot
	// hand off to itself.
	SingleAgent bool
}

// Default returns the agent a new session starts on.
func (r *Roster) Default() *Definition { return r.agents[0] }

// Get looks an agent up by name.
func (r *Roster) Get(name string) (*Definition, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Agents returns the roster in declaration order.
func (r *Roster) Agents() []*Definition { return r.agents }

// Names returns the agent names in declaration order.
func (r *Roster) Names() []string {
	names := make([]string, 0, len(r.agents))
	for _, a := range r.agents {
		names = append(names, a.Name)
	}
	return names
}
