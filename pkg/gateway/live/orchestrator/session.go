package orchestrator

import (
	"context"
	"sync"

	"github.com/vango-go/vai-switchboard/pkg/agents"
)

// ClientConn is the attached client websocket. gorilla's *websocket.Conn
// satisfies it; tests use fakes.
type ClientConn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// clientWriter serializes writes to one client connection. Listener
// goroutines for several agents may write concurrently.
type clientWriter struct {
	mu   sync.Mutex
	conn ClientConn
}

func (w *clientWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (w *clientWriter) Close() error {
	return w.conn.Close()
}

// Session is one client conversation: at most one connection per agent,
// a focus pointer, and an optionally attached client websocket.
//
// mu serializes every focus-changing path; "read focus, then act" is
// atomic per session.
type Session struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[string]*agents.Conn
	focus  string
	client *clientWriter
}

func newSession(parent context.Context, id string) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		ID:     id,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*agents.Conn),
	}
}

// Focus returns the currently focused agent name.
func (s *Session) Focus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focus
}

// focusedConn returns the focused agent's connection, or nil before the
// first agent comes up.
func (s *Session) focusedConn() *agents.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[s.focus]
}

// attachClient binds a websocket to the session, replacing any previous
// one (reconnect).
func (s *Session) attachClient(conn ClientConn) *clientWriter {
	w := &clientWriter{conn: conn}
	s.mu.Lock()
	s.client = w
	s.mu.Unlock()
	return w
}

// detachClient unbinds the websocket if w is still the attached one.
func (s *Session) detachClient(w *clientWriter) {
	s.mu.Lock()
	if s.client == w {
		s.client = nil
	}
	s.mu.Unlock()
}

func (s *Session) clientSnapshot() *clientWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// sendToClient writes a frame to the attached websocket, if any.
func (s *Session) sendToClient(v any) error {
	w := s.clientSnapshot()
	if w == nil {
		return nil
	}
	return w.WriteJSON(v)
}

// forwardIfFocused writes a frame only when the named agent still has
// focus at emission time. Cross-talk suppression is best-effort: a
// frame produced microseconds before a switch may still slip through.
func (s *Session) forwardIfFocused(agentName string, v any) error {
	s.mu.Lock()
	w := s.client
	focused := s.focus == agentName
	s.mu.Unlock()
	if !focused || w == nil {
		return nil
	}
	return w.WriteJSON(v)
}
