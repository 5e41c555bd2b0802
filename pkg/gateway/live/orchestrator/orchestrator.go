// Package orchestrator owns the session registry and runs the
// agent-handoff protocol: it relays client frames to the focused agent
// connection, relays each connection's normalized events back to the
// client, and moves the focus pointer when a route tool fires.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vango-go/vai-switchboard/pkg/agents"
	"github.com/vango-go/vai-switchboard/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-switchboard/pkg/realtime"
)

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

type Orchestrator struct {
	roster *agents.Roster
	dialer realtime.Dialer
	logger *slog.Logger
	store  *Store

	ctx    context.Context
	cancel context.CancelFunc
}

func New(roster *agents.Roster, dialer realtime.Dialer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		roster: roster,
		dialer: dialer,
		logger: logger,
		store:  NewStore(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Store exposes the session store, mostly for handlers and tests.
func (o *Orchestrator) Store() *Store { return o.store }

// StartSession creates a session focused on the roster's first agent
// and brings that agent's upstream connection up in the background.
func (o *Orchestrator) StartSession() (string, error) {
	id := uuid.NewString()
	sess := newSession(o.ctx, id)

	def := o.roster.Default()
	sess.mu.Lock()
	o.ensureConnLocked(sess, def)
	sess.focus = def.Name
	sess.mu.Unlock()

	o.store.Put(sess)
	o.logger.Info("session started", "session_id", id, "agent", def.Name)
	return id, nil
}

// StopSession tears a session down: cancel every listener task, close
// every agent connection, close the client websocket. The three
// cleanups are attempted independently.
func (o *Orchestrator) StopSession(id string) error {
	sess, ok := o.store.Remove(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	o.teardown(sess)
	o.logger.Info("session stopped", "session_id", id)
	return nil
}

// Shutdown destroys every live session.
func (o *Orchestrator) Shutdown() {
	for _, sess := range o.store.Drain() {
		o.teardown(sess)
	}
	o.cancel()
}

func (o *Orchestrator) teardown(sess *Session) {
	sess.cancel()

	sess.mu.Lock()
	conns := make([]*agents.Conn, 0, len(sess.conns))
	for _, c := range sess.conns {
		conns = append(conns, c)
	}
	client := sess.client
	sess.client = nil
	sess.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			o.logger.Warn("closing agent connection", "session_id", sess.ID, "error", err)
		}
	}
	if client != nil {
		if err := client.Close(); err != nil {
			o.logger.Warn("closing client websocket", "session_id", sess.ID, "error", err)
		}
	}
}

// ensureConnLocked lazily creates the connection for an agent. At most
// one connection per agent per session, never recreated. Caller holds
// sess.mu.
func (o *Orchestrator) ensureConnLocked(sess *Session, def *agents.Definition) *agents.Conn {
	if c, ok := sess.conns[def.Name]; ok {
		return c
	}

	c := agents.NewConn(def, o.dialer, o.logger.With("session_id", sess.ID))
	sess.conns[def.Name] = c

	go func() {
		if err := c.Connect(sess.ctx); err != nil {
			o.logger.Error("agent connection ended", "session_id", sess.ID, "agent", def.Name, "error", err)
			_ = sess.sendToClient(protocol.Error(fmt.Sprintf("agent %q disconnected", def.Name)))
		}
	}()
	go o.consumeEvents(sess, def.Name, c)

	return c
}

// consumeEvents drains one agent connection's normalized event stream.
// Events from a non-focused connection are consumed but not forwarded;
// handoff requests are handled regardless of focus.
func (o *Orchestrator) consumeEvents(sess *Session, agentName string, c *agents.Conn) {
	for ev := range c.Events() {
		switch ev.Kind {
		case agents.EventAgentSwitched:
			o.handleSwitch(sess, agentName, c, ev.Switch)
		case agents.EventAudioDelta:
			o.forward(sess, agentName, protocol.AudioDelta(ev.AudioB64, ev.ItemID))
		case agents.EventInputTranscript:
			o.forward(sess, agentName, protocol.InputTranscript(ev.Text))
		case agents.EventResponseAudioTranscript:
			o.forward(sess, agentName, protocol.AudioTranscriptDelta(ev.Text))
		case agents.EventResponseTextDelta:
			o.forward(sess, agentName, protocol.TextDelta(ev.Text))
		case agents.EventUserAudioStarted:
			o.forward(sess, agentName, protocol.UserAudioStarted())
		case agents.EventUserAudioStopped:
			o.forward(sess, agentName, protocol.UserAudioStopped())
		case agents.EventUnhandled:
			o.forward(sess, agentName, protocol.Unhandled(ev.UpstreamType, ev.Raw))
		}
	}
	o.logger.Info("agent event stream ended", "session_id", sess.ID, "agent", agentName)
}

func (o *Orchestrator) forward(sess *Session, agentName string, frame any) {
	if err := sess.forwardIfFocused(agentName, frame); err != nil {
		o.logger.Warn("client write failed", "session_id", sess.ID, "agent", agentName, "error", err)
	}
}

// handleSwitch runs the handoff protocol for a validated route tool
// call from agent `from`. The pending input/output pair has not been
// delivered upstream yet; delivery happens here once the outcome is
// known.
func (o *Orchestrator) handleSwitch(sess *Session, from string, fromConn *agents.Conn, sw *agents.SwitchRequest) {
	target, _ := sw.Args[sw.TargetField].(string)
	def, known := o.roster.Get(target)

	if !known {
		o.logger.Warn("handoff to unknown agent rejected", "session_id", sess.ID, "from", from, "target", target)
		// A gets the error with a response request so its model can
		// recover; focus stays put, no connection is created.
		errOutput := realtime.FunctionOutputItem(sw.Output.CallID, fmt.Sprintf("Error: unknown agent %q", target))
		if err := fromConn.NotifySwitch(sess.ctx, sw.Input, errOutput, true); err != nil {
			o.logger.Error("failed to deliver handoff rejection", "session_id", sess.ID, "agent", from, "error", err)
		}
		_ = sess.sendToClient(protocol.Error(fmt.Sprintf("cannot switch: unknown agent %q", target)))
		return
	}

	o.logger.Info("agent handoff", "session_id", sess.ID, "from", from, "to", target)

	sess.mu.Lock()
	toConn := o.ensureConnLocked(sess, def)
	sess.focus = target
	sess.mu.Unlock()

	_ = sess.sendToClient(protocol.AgentSwitched(target, sess.ID))

	// NotifySwitch and UpdateInstructions block until the target
	// connection settles; nothing below may hold sess.mu.

	// A's turn is over: deliver the pair without a response request so
	// it does not keep talking after handing off.
	if err := fromConn.NotifySwitch(sess.ctx, sw.Input, sw.Output, false); err != nil {
		o.logger.Error("failed to deliver handoff result", "session_id", sess.ID, "agent", from, "error", err)
	}

	// B receives switch context before its next turn.
	if err := toConn.UpdateInstructions(sess.ctx, sw.Args); err != nil {
		o.logger.Error("failed to update instructions", "session_id", sess.ID, "agent", target, "error", err)
	}
}

// switchFocus handles a client-requested (manual) focus change.
func (o *Orchestrator) switchFocus(sess *Session, target string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	def, known := o.roster.Get(target)
	if !known {
		if w := sess.client; w != nil {
			_ = w.WriteJSON(protocol.Error(fmt.Sprintf("cannot switch: unknown agent %q", target)))
		}
		return
	}

	o.ensureConnLocked(sess, def)
	sess.focus = target
	if w := sess.client; w != nil {
		_ = w.WriteJSON(protocol.AgentSwitched(target, sess.ID))
	}
}

// HandleClient attaches a websocket to a session and runs its read
// loop until disconnect. A transport failure ends this websocket only;
// the session and its agent connections stay up.
func (o *Orchestrator) HandleClient(ctx context.Context, conn ClientConn, sessionID string) error {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		_ = conn.WriteJSON(protocol.Error("invalid session_id"))
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	w := sess.attachClient(conn)
	o.logger.Info("client attached", "session_id", sessionID)

	defer func() {
		sess.detachClient(w)
		_ = conn.Close()
		o.logger.Info("client detached", "session_id", sessionID)
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			o.logger.Info("client read ended", "session_id", sessionID, "error", err)
			return nil
		}

		msg, err := protocol.DecodeClientMessage(data)
		if err != nil {
			_ = w.WriteJSON(protocol.Error(err.Error()))
			continue
		}

		if done := o.handleClientFrame(ctx, sess, w, msg); done {
			return nil
		}
	}
}

// handleClientFrame routes one decoded inbound frame. Returns true on
// an explicit disconnect.
func (o *Orchestrator) handleClientFrame(ctx context.Context, sess *Session, w *clientWriter, msg any) bool {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		if c := sess.focusedConn(); c != nil {
			if err := c.SendAudio(ctx, m.Audio); err != nil {
				o.logger.Warn("audio relay failed", "session_id", sess.ID, "error", err)
			}
		}
	case protocol.ClientUserInput:
		if c := sess.focusedConn(); c != nil {
			if err := c.SendUserMessage(ctx, m.Text); err != nil {
				o.logger.Warn("user message relay failed", "session_id", sess.ID, "error", err)
				_ = w.WriteJSON(protocol.Error("failed to deliver message"))
			}
		}
	case protocol.ClientSwitchAgent:
		o.switchFocus(sess, m.AgentName)
	case protocol.ClientInterrupt:
		if c := sess.focusedConn(); c != nil {
			if err := c.TruncateAssistantAudio(ctx, m.DurationMS, m.ItemID); err != nil {
				o.logger.Warn("truncate failed", "session_id", sess.ID, "error", err)
			}
		}
	case protocol.ClientDisconnect:
		o.logger.Info("client requested disconnect", "session_id", sess.ID)
		return true
	}
	return false
}
