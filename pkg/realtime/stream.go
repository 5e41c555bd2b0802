package realtime

import "context"

// Stream is one bidirectional upstream realtime connection. Recv is
// single-consumer: exactly one goroutine reads events. Send-side
// methods are safe for concurrent use.
type Stream interface {
	// UpdateSession negotiates session parameters. Callers only invoke
	// this when params carry at least one non-default value.
	UpdateSession(ctx context.Context, params SessionParams) error

	// AppendAudio pushes a base64-encoded PCM chunk into the input
	// audio buffer.
	AppendAudio(ctx context.Context, audioB64 string) error

	// CreateItem inserts a conversation item (user message, function
	// call, function output).
	CreateItem(ctx context.Context, item Item) error

	// CreateResponse asks the model to produce its next response.
	CreateResponse(ctx context.Context) error

	// TruncateItem cuts already-sent assistant audio at endMS.
	TruncateItem(ctx context.Context, itemID string, endMS int) error

	// Recv blocks for the next server event. It returns an error once
	// the stream is closed or broken; no events follow an error.
	Recv(ctx context.Context) (*ServerEvent, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens a Stream for the given model. The orchestrator keeps one
// per process so tests can swap in fakes.
type Dialer interface {
	Dial(ctx context.Context, model string) (Stream, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, model string) (Stream, error)

func (f DialFunc) Dial(ctx context.Context, model string) (Stream, error) {
	return f(ctx, model)
}
