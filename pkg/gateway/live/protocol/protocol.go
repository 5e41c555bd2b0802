// Package protocol defines the JSON frames exchanged with the browser
// client over the live websocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Inbound frames.

// ClientAudioChunk carries one base64-encoded PCM chunk from the mic.
type ClientAudioChunk struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ClientUserInput is a typed user text message.
type ClientUserInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientSwitchAgent asks for a manual focus change.
type ClientSwitchAgent struct {
	Type      string `json:"type"`
	AgentName string `json:"agent_name"`
}

// ClientInterrupt reports the user talking over the assistant; the
// assistant's audio for the item is truncated at duration_ms.
type ClientInterrupt struct {
	Type       string `json:"type"`
	DurationMS int    `json:"duration_ms"`
	ItemID     string `json:"item_id"`
}

// ClientDisconnect ends the websocket but not the session.
type ClientDisconnect struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one inbound frame. Unknown types are
// rejected; the client protocol is closed.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "audio_chunk":
		var msg ClientAudioChunk
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_chunk", "")
		}
		if strings.TrimSpace(msg.Audio) == "" {
			return nil, badRequest("audio_chunk.audio is required", "audio")
		}
		return msg, nil
	case "user_input":
		var msg ClientUserInput
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_input", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("user_input.text is required", "text")
		}
		return msg, nil
	case "switch_agent":
		var msg ClientSwitchAgent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid switch_agent", "")
		}
		if strings.TrimSpace(msg.AgentName) == "" {
			return nil, badRequest("switch_agent.agent_name is required", "agent_name")
		}
		return msg, nil
	case "user_interrupt":
		var msg ClientInterrupt
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_interrupt", "")
		}
		if msg.DurationMS < 0 {
			return nil, badRequest("user_interrupt.duration_ms must be >= 0", "duration_ms")
		}
		if strings.TrimSpace(msg.ItemID) == "" {
			return nil, badRequest("user_interrupt.item_id is required", "item_id")
		}
		return msg, nil
	case "disconnect":
		return ClientDisconnect{Type: typ}, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// Outbound frames.

type ServerAgentSwitched struct {
	Type      string `json:"type"`
	AgentName string `json:"agent_name"`
	SessionID string `json:"session_id"`
}

func AgentSwitched(agentName, sessionID string) ServerAgentSwitched {
	return ServerAgentSwitched{Type: "agent_switched", AgentName: agentName, SessionID: sessionID}
}

type ServerTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InputTranscript is the completed transcript of the user's speech.
func InputTranscript(text string) ServerTranscript {
	return ServerTranscript{Type: "input_audio_transcript", Text: text}
}

// AudioTranscriptDelta carries the assistant's spoken transcript. Text
// is cumulative: the full transcript so far, not a diff.
func AudioTranscriptDelta(text string) ServerTranscript {
	return ServerTranscript{Type: "response_audio_transcript_delta", Text: text}
}

// TextDelta carries the assistant's text response, cumulative.
func TextDelta(text string) ServerTranscript {
	return ServerTranscript{Type: "response_text_delta", Text: text}
}

type ServerAudioDelta struct {
	Type   string `json:"type"`
	Audio  string `json:"audio"`
	ItemID string `json:"item_id"`
}

func AudioDelta(audioB64, itemID string) ServerAudioDelta {
	return ServerAudioDelta{Type: "audio_delta", Audio: audioB64, ItemID: itemID}
}

type ServerUserAudio struct {
	Type string `json:"type"`
}

func UserAudioStarted() ServerUserAudio { return ServerUserAudio{Type: "user_audio_started"} }
func UserAudioStopped() ServerUserAudio { return ServerUserAudio{Type: "user_audio_stopped"} }

type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func Error(message string) ServerError {
	return ServerError{Type: "error", Message: message}
}

// ServerUnhandled relays an upstream event this gateway does not
// classify. Relaying beats dropping: clients stay forward compatible
// with upstream protocol additions.
type ServerUnhandled struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Unhandled(event string, payload json.RawMessage) ServerUnhandled {
	return ServerUnhandled{Type: "unhandled_event", Event: event, Payload: payload}
}
