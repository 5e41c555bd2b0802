package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-go/vai-switchboard/pkg/agents/tools"
	"github.com/vango-go/vai-switchboard/pkg/realtime"
)

// EventKind classifies the normalized events an agent connection emits.
type EventKind int

const (
	EventAudioDelta EventKind = iota
	EventInputTranscript
	EventResponseAudioTranscript
	EventResponseTextDelta
	EventAgentSwitched
	EventUserAudioStarted
	EventUserAudioStopped
	EventUnhandled
)

// SwitchRequest is a validated route tool call waiting on the
// orchestrator's decision. The input/output pair has NOT been delivered
// upstream yet.
type SwitchRequest struct {
	Input  realtime.Item
	Output realtime.Item
	Args   map[string]any
	// TargetField names the argument carrying the handoff target.
	TargetField string
}

// Event is one normalized upstream event.
type Event struct {
	Kind EventKind

	// Text carries transcripts. For the delta kinds it is the full
	// text accumulated so far, not a diff.
	Text string

	AudioB64 string
	ItemID   string

	// Switch is set for EventAgentSwitched.
	Switch *SwitchRequest

	// UpstreamType and Raw describe unhandled events.
	UpstreamType string
	Raw          json.RawMessage
}

// Conn owns exactly one upstream realtime connection for one
// (session, agent) pair. Connect runs the receive loop; everything the
// loop classifies surfaces on Events.
type Conn struct {
	def    *Definition
	dialer realtime.Dialer
	logger *slog.Logger

	connected chan struct{}
	gateOnce  sync.Once
	events    chan Event

	mu         sync.Mutex
	stream     realtime.Stream
	closed     bool
	connectErr error

	// Streaming accumulators keyed by upstream item id. Entries live
	// for the life of the connection; turn count bounds them.
	audioTranscripts map[string]string
	textTranscripts  map[string]string
}

// NewConn builds an unconnected agent connection.
func NewConn(def *Definition, dialer realtime.Dialer, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		def:              def,
		dialer:           dialer,
		logger:           logger.With("agent", def.Name),
		connected:        make(chan struct{}),
		events:           make(chan Event, 16),
		audioTranscripts: make(map[string]string),
		textTranscripts:  make(map[string]string),
	}
}

// Definition returns the agent configuration this connection serves.
func (c *Conn) Definition() *Definition { return c.def }

// Events is the normalized event stream. It is closed when the receive
// loop ends.
func (c *Conn) Events() <-chan Event { return c.events }

// Connect dials the upstream, negotiates session parameters, releases
// the connected gate, and runs the receive loop until ctx ends or the
// stream breaks. It closes the Events channel on return.
func (c *Conn) Connect(ctx context.Context) error {
	defer close(c.events)

	stream, err := c.dialer.Dial(ctx, c.def.Model)
	if err != nil {
		err = fmt.Errorf("agent %s: %w", c.def.Name, err)
		c.failGate(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = stream.Close()
		c.failGate(fmt.Errorf("agent %s: connection closed", c.def.Name))
		return nil
	}
	c.stream = stream
	c.mu.Unlock()

	if params := c.def.SessionParams(); !params.IsZero() {
		if err := stream.UpdateSession(ctx, params); err != nil {
			err = fmt.Errorf("agent %s: session update: %w", c.def.Name, err)
			c.failGate(err)
			return err
		}
	}

	c.releaseGate()

	if c.def.InitialUserMessage != "" {
		if err := c.sendUserMessage(ctx, c.def.InitialUserMessage); err != nil {
			return fmt.Errorf("agent %s: initial message: %w", c.def.Name, err)
		}
	}

	return c.receiveLoop(ctx, stream)
}

func (c *Conn) releaseGate() {
	c.gateOnce.Do(func() { close(c.connected) })
}

// failGate releases the gate carrying a connect failure, so blocked
// senders fail instead of waiting on a connection that will never come.
func (c *Conn) failGate(err error) {
	c.mu.Lock()
	if c.connectErr == nil {
		c.connectErr = err
	}
	c.mu.Unlock()
	c.releaseGate()
}

// awaitConnected blocks until the connected gate fires, then reports
// how it fired. Sends block while the dial is in flight; once the
// connection attempt has failed they fail fast.
func (c *Conn) awaitConnected(ctx context.Context) error {
	select {
	case <-c.connected:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectErr
}

func (c *Conn) receiveLoop(ctx context.Context, stream realtime.Stream) error {
	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || c.isClosed() {
				return nil
			}
			c.logger.Warn("upstream receive ended", "error", err)
			return err
		}
		if done := c.handleUpstreamEvent(ctx, stream, ev); done {
			return nil
		}
	}
}

// handleUpstreamEvent classifies one upstream event. It returns true
// when ctx ended mid-emit and the loop should stop.
func (c *Conn) handleUpstreamEvent(ctx context.Context, stream realtime.Stream, ev *realtime.ServerEvent) bool {
	switch ev.Type {
	case realtime.EventSessionCreated, realtime.EventSessionUpdated:
		// Acknowledgements of our own session.update calls; nothing to
		// relay.
		return false

	case realtime.EventResponseAudioDelta:
		return c.emit(ctx, Event{Kind: EventAudioDelta, AudioB64: ev.Delta, ItemID: ev.ItemID})

	case realtime.EventInputTranscriptCompleted:
		return c.emit(ctx, Event{Kind: EventInputTranscript, Text: ev.Transcript})

	case realtime.EventResponseAudioTranscript:
		text := c.audioTranscripts[ev.ItemID] + ev.Delta
		c.audioTranscripts[ev.ItemID] = text
		return c.emit(ctx, Event{Kind: EventResponseAudioTranscript, Text: text, ItemID: ev.ItemID})

	case realtime.EventResponseTextDelta:
		text := c.textTranscripts[ev.ItemID] + ev.Delta
		c.textTranscripts[ev.ItemID] = text
		return c.emit(ctx, Event{Kind: EventResponseTextDelta, Text: text, ItemID: ev.ItemID})

	case realtime.EventFunctionCallDone:
		return c.handleToolCall(ctx, stream, ev)

	case realtime.EventSpeechStarted:
		return c.emit(ctx, Event{Kind: EventUserAudioStarted, Raw: ev.Raw})

	case realtime.EventSpeechStopped:
		return c.emit(ctx, Event{Kind: EventUserAudioStopped, Raw: ev.Raw})

	default:
		// Unhandled-but-visible keeps us forward compatible with new
		// upstream event types.
		return c.emit(ctx, Event{Kind: EventUnhandled, UpstreamType: ev.Type, Raw: ev.Raw})
	}
}

func (c *Conn) handleToolCall(ctx context.Context, stream realtime.Stream, ev *realtime.ServerEvent) bool {
	call := tools.ToolCall{CallID: ev.CallID, Name: ev.Name, Arguments: ev.Arguments}
	c.logger.Info("dispatching tool call", "tool", call.Name, "call_id", call.CallID)

	res := tools.Dispatch(ctx, call, c.def.ToolMap, c.def.SwitchNotification, c.logger)

	if res.Route && res.PassedValidation {
		// The orchestrator decides whether the handoff succeeds, so the
		// upstream acknowledgement is deferred.
		return c.emit(ctx, Event{
			Kind: EventAgentSwitched,
			Switch: &SwitchRequest{
				Input:       res.Input,
				Output:      res.Output,
				Args:        res.RouteArgs,
				TargetField: res.TargetField,
			},
		})
	}

	// User tool results and failed route validations go straight back,
	// with a response request so the model keeps its turn.
	if err := c.deliverPair(ctx, stream, res.Input, res.Output, true); err != nil {
		c.logger.Error("failed to deliver tool result", "tool", call.Name, "error", err)
	}
	return false
}

func (c *Conn) deliverPair(ctx context.Context, stream realtime.Stream, input, output realtime.Item, requestResponse bool) error {
	if err := stream.CreateItem(ctx, input); err != nil {
		return err
	}
	if err := stream.CreateItem(ctx, output); err != nil {
		return err
	}
	if requestResponse {
		return stream.CreateResponse(ctx)
	}
	return nil
}

func (c *Conn) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return false
	case <-ctx.Done():
		return true
	}
}

// SendAudio pushes a base64 PCM chunk. Blocks until connected.
func (c *Conn) SendAudio(ctx context.Context, audioB64 string) error {
	if err := c.awaitConnected(ctx); err != nil {
		return err
	}
	return c.currentStream().AppendAudio(ctx, audioB64)
}

// SendUserMessage inserts a user text message and requests a response.
// Blocks until connected.
func (c *Conn) SendUserMessage(ctx context.Context, text string) error {
	if err := c.awaitConnected(ctx); err != nil {
		return err
	}
	return c.sendUserMessage(ctx, text)
}

func (c *Conn) sendUserMessage(ctx context.Context, text string) error {
	stream := c.currentStream()
	if err := stream.CreateItem(ctx, realtime.UserMessageItem(text)); err != nil {
		return err
	}
	return stream.CreateResponse(ctx)
}

// TruncateAssistantAudio cuts spoken output that the user interrupted.
func (c *Conn) TruncateAssistantAudio(ctx context.Context, endMS int, itemID string) error {
	if err := c.awaitConnected(ctx); err != nil {
		return err
	}
	return c.currentStream().TruncateItem(ctx, itemID, endMS)
}

// NotifySwitch delivers a pending tool result pair, with or without a
// follow-up response request.
func (c *Conn) NotifySwitch(ctx context.Context, input, output realtime.Item, requestResponse bool) error {
	if err := c.awaitConnected(ctx); err != nil {
		return err
	}
	return c.deliverPair(ctx, c.currentStream(), input, output, requestResponse)
}

// UpdateInstructions composes the base instructions with the switch
// context template filled from the handoff arguments, pushes the
// result upstream, and optionally prompts the agent to acknowledge.
func (c *Conn) UpdateInstructions(ctx context.Context, args map[string]any) error {
	if err := c.awaitConnected(ctx); err != nil {
		return err
	}
	if c.def.SwitchContext == "" {
		return nil
	}
	c.logger.Info("updating agent instructions")

	instructions := c.def.Instructions + "\n" + FormatTemplate(c.def.SwitchContext, args)
	if err := c.currentStream().UpdateSession(ctx, realtime.SessionParams{Instructions: instructions}); err != nil {
		return err
	}
	if c.def.SwitchUserMessage != "" {
		return c.sendUserMessage(ctx, c.def.SwitchUserMessage)
	}
	return nil
}

func (c *Conn) currentStream() realtime.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears the upstream connection down. Closing twice logs a
// warning instead of attempting a second teardown.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Warn("connection already closed")
		return nil
	}
	c.closed = true
	stream := c.stream
	c.mu.Unlock()

	c.failGate(fmt.Errorf("agent %s: connection closed", c.def.Name))

	if stream == nil {
		return nil
	}
	return stream.Close()
}

// FormatTemplate fills {key} placeholders from args. Keys absent from
// args stay literal so a misconfigured template degrades instead of
// breaking a live session.
func FormatTemplate(template string, args map[string]any) string {
	out := template
	for key, val := range args {
		out = strings.ReplaceAll(out, "{"+key+"}", fmt.Sprint(val))
	}
	return out
}
