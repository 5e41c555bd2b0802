package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultBaseURL is the realtime websocket endpoint. Overridable
	// for proxies and tests.
	DefaultBaseURL = "wss://api.openai.com/v1/realtime"

	defaultWriteTimeout = 10 * time.Second
	defaultDialTimeout  = 15 * time.Second
)

// Options configures Dial.
type Options struct {
	APIKey  string
	BaseURL string // defaults to DefaultBaseURL
	Logger  *slog.Logger

	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration
}

// Conn is a Stream over a raw realtime websocket. Writes are serialized
// by a mutex; Recv must stay single-consumer.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Dial opens a realtime connection for the given model.
func Dial(ctx context.Context, model string, opts Options) (*Conn, error) {
	if model == "" {
		return nil, fmt.Errorf("realtime: model is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	query := url.Values{}
	query.Set("model", model)

	header := http.Header{}
	if opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+opts.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
	ws, resp, err := dialer.DialContext(ctx, base+"?"+query.Encode(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial %s: %w (status %d)", model, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", model, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &Conn{
		ws:           ws,
		logger:       logger,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}, nil
}

// NewDialer returns a Dialer that opens real upstream connections with
// the given options.
func NewDialer(opts Options) Dialer {
	return DialFunc(func(ctx context.Context, model string) (Stream, error) {
		return Dial(ctx, model, opts)
	})
}

func (c *Conn) UpdateSession(ctx context.Context, params SessionParams) error {
	return c.send(ctx, map[string]any{
		"type":    "session.update",
		"session": params,
	})
}

func (c *Conn) AppendAudio(ctx context.Context, audioB64 string) error {
	return c.send(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioB64,
	})
}

func (c *Conn) CreateItem(ctx context.Context, item Item) error {
	return c.send(ctx, map[string]any{
		"type": "conversation.item.create",
		"item": item,
	})
}

func (c *Conn) CreateResponse(ctx context.Context) error {
	return c.send(ctx, map[string]any{
		"type":     "response.create",
		"response": map[string]any{},
	})
}

func (c *Conn) TruncateItem(ctx context.Context, itemID string, endMS int) error {
	return c.send(ctx, map[string]any{
		"type":          "conversation.item.truncate",
		"item_id":       itemID,
		"content_index": 0,
		"audio_end_ms":  endMS,
	})
}

func (c *Conn) send(ctx context.Context, payload map[string]any) error {
	select {
	case <-c.closed:
		return fmt.Errorf("realtime: connection closed")
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %q: %w", payload["type"], err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime: send %q: %w", payload["type"], err)
	}
	return nil
}

// Recv reads and decodes the next server event. A frame that is not
// valid JSON is surfaced as an event of type "invalid" rather than an
// error so the caller can relay it as unhandled.
func (c *Conn) Recv(ctx context.Context) (*ServerEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return nil, fmt.Errorf("realtime: connection closed")
		default:
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, fmt.Errorf("realtime: upstream closed: %w", err)
		}
		return nil, fmt.Errorf("realtime: read: %w", err)
	}

	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Warn("realtime event is not valid json", "bytes", len(data))
		return &ServerEvent{Type: "invalid", Raw: data}, nil
	}
	ev.Raw = data
	return &ev, nil
}

// Close shuts the websocket down. Subsequent calls return the first
// result without a second network teardown.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		deadline := time.Now().Add(2 * time.Second)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

var _ Stream = (*Conn)(nil)
