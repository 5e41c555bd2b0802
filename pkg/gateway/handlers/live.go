package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-switchboard/pkg/gateway/apierror"
	"github.com/vango-go/vai-switchboard/pkg/gateway/config"
	"github.com/vango-go/vai-switchboard/pkg/gateway/live/orchestrator"
	"github.com/vango-go/vai-switchboard/pkg/gateway/mw"
)

// LiveHandler handles GET /v1/live/{session_id} websocket attachments.
type LiveHandler struct {
	Config       config.Config
	Orchestrator *orchestrator.Orchestrator
	Logger       *slog.Logger
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if r.Method != http.MethodGet {
		writeErrorJSON(w, reqID, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "method not allowed",
			Code:    "method_not_allowed",
		}, http.StatusMethodNotAllowed)
		return
	}
	if !h.originAllowed(r) {
		writeErrorJSON(w, reqID, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "origin is not allowed",
			Param:   "Origin",
		}, http.StatusForbidden)
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		writeErrorJSON(w, reqID, &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: "session_id is required",
			Param:   "session_id",
		}, http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if h.Config.LiveMaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxMessageBytes)
	}

	wrapped := &wsConn{conn: conn, writeTimeout: h.Config.LiveWSWriteTimeout}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go h.pingLoop(conn, pingDone)

	if err := h.Orchestrator.HandleClient(r.Context(), wrapped, sessionID); err != nil {
		if h.Logger != nil {
			h.Logger.Info("live attach rejected", "request_id", reqID, "session_id", sessionID, "error", err)
		}
	}
}

// pingLoop keeps intermediaries from reaping an idle websocket.
// WriteControl is safe alongside the writer goroutines.
func (h LiveHandler) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	interval := h.Config.LiveWSPingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.Config.LiveWSWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return
			}
		}
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients.
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// wsConn adapts a gorilla connection to the orchestrator's client
// interface and applies the configured write deadline.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) WriteJSON(v any) error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
