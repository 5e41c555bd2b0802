package realtime

import "encoding/json"

// Server event types the gateway classifies. Anything else is passed
// through untouched; the upstream protocol grows faster than we do.
const (
	EventSessionCreated           = "session.created"
	EventSessionUpdated           = "session.updated"
	EventResponseAudioDelta       = "response.audio.delta"
	EventInputTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	EventResponseAudioTranscript  = "response.audio_transcript.delta"
	EventResponseTextDelta        = "response.text.delta"
	EventFunctionCallDone         = "response.function_call_arguments.done"
	EventSpeechStarted            = "input_audio_buffer.speech_started"
	EventSpeechStopped            = "input_audio_buffer.speech_stopped"
)

// ServerEvent is a decoded upstream frame. Only the fields the gateway
// acts on are lifted out; Raw keeps the full payload for relaying.
type ServerEvent struct {
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Arguments  string          `json:"arguments,omitempty"`
	Session    json.RawMessage `json:"session,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// SessionParams is the flat options object for session.update. Fields
// left zero are omitted so the upstream keeps its own defaults.
type SessionParams struct {
	Model                   string          `json:"model,omitempty"`
	Temperature             float64         `json:"temperature,omitempty"`
	Voice                   string          `json:"voice,omitempty"`
	Instructions            string          `json:"instructions,omitempty"`
	TurnDetection           map[string]any  `json:"turn_detection,omitempty"`
	InputAudioTranscription map[string]any  `json:"input_audio_transcription,omitempty"`
	Tools                   json.RawMessage `json:"tools,omitempty"`
	ToolChoice              string          `json:"tool_choice,omitempty"`
}

// IsZero reports whether an update would carry no parameters at all.
func (p SessionParams) IsZero() bool {
	return p.Model == "" && p.Temperature == 0 && p.Voice == "" &&
		p.Instructions == "" && p.TurnDetection == nil &&
		p.InputAudioTranscription == nil && len(p.Tools) == 0 && p.ToolChoice == ""
}

// ContentPart is one entry of a message item's content list.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Item is a conversation item sent via conversation.item.create.
// Exactly one of the role/call shapes is populated depending on Type.
type Item struct {
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Status    string        `json:"status,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// UserMessageItem builds a completed user text message item.
func UserMessageItem(text string) Item {
	return Item{
		Type:    "message",
		Role:    "user",
		Status:  "completed",
		Content: []ContentPart{{Type: "input_text", Text: text}},
	}
}

// FunctionCallItem echoes a tool call back into the conversation.
func FunctionCallItem(callID, name, arguments string) Item {
	return Item{
		Type:      "function_call",
		Status:    "completed",
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
	}
}

// FunctionOutputItem carries a tool result back to the model.
func FunctionOutputItem(callID, output string) Item {
	return Item{
		Type:   "function_call_output",
		CallID: callID,
		Output: output,
	}
}
