package agents

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-switchboard/pkg/agents/tools"
)

var acceptableVoices = map[string]struct{}{
	"alloy": {}, "ash": {}, "ballad": {}, "coral": {},
	"echo": {}, "sage": {}, "shimmer": {}, "verse": {},
}

type agentYAML struct {
	Name               string           `yaml:"name"`
	Description        string           `yaml:"description"`
	Model              string           `yaml:"model"`
	Temperature        float64          `yaml:"temperature"`
	Voice              string           `yaml:"voice"`
	TurnDetection      map[string]any   `yaml:"turn_detection"`
	InputTranscription map[string]any   `yaml:"input_transcription"`
	Instructions       string           `yaml:"instructions"`
	SwitchContext      string           `yaml:"switch_context"`
	SwitchNotification string           `yaml:"switch_notification"`
	SwitchUserMessage  string           `yaml:"switch_user_message"`
	InitialUserMessage string           `yaml:"initial_user_message"`
	ToolChoice         string           `yaml:"tool_choice"`
	Tools              []string         `yaml:"tools"`
	ToolSchemas        []map[string]any `yaml:"tool_schemas"`
}

type rosterYAML struct {
	Agents []agentYAML `yaml:"agents"`
}

// LoadFile reads and validates the roster file.
func LoadFile(path string, reg *tools.Registry) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agents: read %s: %w", path, err)
	}
	return Load(data, reg)
}

// Load parses and validates a YAML roster. Every declared tool name
// must resolve; any violation is a ConfigError and the caller must not
// serve traffic.
func Load(data []byte, reg *tools.Registry) (*Roster, error) {
	var file rosterYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("agents: parse roster: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, configErrf("", "roster declares no agents")
	}

	roster := &Roster{
		byName:      make(map[string]*Definition, len(file.Agents)),
		SingleAgent: len(file.Agents) == 1,
	}

	toolRoster := tools.Roster{
		Names:        make([]string, 0, len(file.Agents)),
		Descriptions: make(map[string]string, len(file.Agents)),
	}
	for _, a := range file.Agents {
		toolRoster.Names = append(toolRoster.Names, a.Name)
		toolRoster.Descriptions[a.Name] = a.Description
	}

	for _, a := range file.Agents {
		def, err := buildDefinition(a, reg, roster.SingleAgent, toolRoster)
		if err != nil {
			return nil, err
		}
		if _, dup := roster.byName[def.Name]; dup {
			return nil, configErrf(def.Name, "declared twice")
		}
		roster.agents = append(roster.agents, def)
		roster.byName[def.Name] = def
	}
	return roster, nil
}

func buildDefinition(a agentYAML, reg *tools.Registry, singleAgent bool, toolRoster tools.Roster) (*Definition, error) {
	if a.Name == "" {
		return nil, configErrf("", "agent without a name")
	}
	if a.Model == "" {
		return nil, configErrf(a.Name, "model is required")
	}
	if a.Voice != "" {
		if _, ok := acceptableVoices[a.Voice]; !ok {
			return nil, configErrf(a.Name, "voice %q is not supported", a.Voice)
		}
	}
	if len(a.ToolSchemas) > 0 && len(a.ToolSchemas) != len(a.Tools) {
		return nil, configErrf(a.Name, "tools (%d) and tool_schemas (%d) lengths must match",
			len(a.Tools), len(a.ToolSchemas))
	}

	routeCount := 0
	toolNames := make([]string, 0, len(a.Tools))
	for _, name := range a.Tools {
		if reg.IsRoute(name) {
			routeCount++
			// A single agent cannot hand off to itself.
			if singleAgent {
				continue
			}
		}
		toolNames = append(toolNames, name)
	}
	if routeCount > 1 {
		return nil, configErrf(a.Name, "more than one route tool in tool list")
	}

	schemas, toolMap, err := tools.BuildToolSchemas(toolNames, reg, toolRoster)
	if err != nil {
		return nil, configErrf(a.Name, "%v", err)
	}

	schemasJSON, err := resolveSchemas(a, schemas, singleAgent)
	if err != nil {
		return nil, configErrf(a.Name, "%v", err)
	}

	def := &Definition{
		Name:               a.Name,
		Description:        a.Description,
		Model:              a.Model,
		Temperature:        a.Temperature,
		Voice:              a.Voice,
		TurnDetection:      a.TurnDetection,
		InputTranscription: a.InputTranscription,
		Instructions:       a.Instructions,
		SwitchContext:      a.SwitchContext,
		SwitchNotification: a.SwitchNotification,
		SwitchUserMessage:  a.SwitchUserMessage,
		InitialUserMessage: a.InitialUserMessage,
		ToolChoice:         a.ToolChoice,
		ToolNames:          toolNames,
		ToolMap:            toolMap,
		SchemasJSON:        schemasJSON,
	}
	if def.SwitchNotification == "" {
		def.SwitchNotification = DefaultSwitchNotification
	}
	if def.ToolChoice == "" && len(schemasJSON) > 0 {
		def.ToolChoice = "auto"
	}
	return def, nil
}

// resolveSchemas prefers an externally supplied, structurally valid
// schema list over the generated one. Supplied lists are unusable in
// single-agent mode once route tools were filtered out, so generated
// schemas win there.
func resolveSchemas(a agentYAML, generated []*tools.Schema, singleAgent bool) (json.RawMessage, error) {
	if len(a.ToolSchemas) > 0 && !singleAgent {
		raw := make([]json.RawMessage, 0, len(a.ToolSchemas))
		for _, m := range a.ToolSchemas {
			data, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("encode supplied schema: %w", err)
			}
			raw = append(raw, data)
		}
		if err := tools.ValidateSchemaList(raw); err != nil {
			return nil, err
		}
		return json.Marshal(raw)
	}
	return tools.MarshalSchemas(generated)
}
