package agents

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-switchboard/pkg/agents/tools"
	"github.com/vango-go/vai-switchboard/pkg/realtime"
)

// fakeStream scripts upstream events and records everything sent.
type fakeStream struct {
	mu       sync.Mutex
	incoming chan *realtime.ServerEvent

	sessionUpdates []realtime.SessionParams
	audio          []string
	items          []realtime.Item
	responses      int
	truncations    []string
	closed         bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{incoming: make(chan *realtime.ServerEvent, 32)}
}

func (s *fakeStream) push(ev *realtime.ServerEvent) { s.incoming <- ev }

func (s *fakeStream) UpdateSession(ctx context.Context, params realtime.SessionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionUpdates = append(s.sessionUpdates, params)
	return nil
}

func (s *fakeStream) AppendAudio(ctx context.Context, audioB64 string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, audioB64)
	return nil
}

func (s *fakeStream) CreateItem(ctx context.Context, item realtime.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

func (s *fakeStream) CreateResponse(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses++
	return nil
}

func (s *fakeStream) TruncateItem(ctx context.Context, itemID string, endMS int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truncations = append(s.truncations, itemID)
	return nil
}

func (s *fakeStream) Recv(ctx context.Context) (*realtime.ServerEvent, error) {
	select {
	case ev, ok := <-s.incoming:
		if !ok {
			return nil, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.incoming)
	}
	return nil
}

func (s *fakeStream) snapshotItems() []realtime.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]realtime.Item(nil), s.items...)
}

func (s *fakeStream) responseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responses
}

func dialerFor(s *fakeStream) realtime.Dialer {
	return realtime.DialFunc(func(ctx context.Context, model string) (realtime.Stream, error) {
		return s, nil
	})
}

func testDefinition(t *testing.T, reg *tools.Registry, toolNames ...string) *Definition {
	t.Helper()
	roster := tools.Roster{Names: []string{"concierge", "banker"}}
	schemas, toolMap, err := tools.BuildToolSchemas(toolNames, reg, roster)
	if err != nil {
		t.Fatalf("BuildToolSchemas() error = %v", err)
	}
	schemasJSON, err := tools.MarshalSchemas(schemas)
	if err != nil {
		t.Fatalf("MarshalSchemas() error = %v", err)
	}
	return &Definition{
		Name:               "concierge",
		Model:              "gpt-4o-realtime-preview",
		Voice:              "alloy",
		Instructions:       "Be helpful.",
		SwitchContext:      "Taking over from {current_agent}. Summary: {summary}",
		SwitchNotification: DefaultSwitchNotification,
		ToolNames:          toolNames,
		ToolMap:            toolMap,
		SchemasJSON:        schemasJSON,
	}
}

func startConn(t *testing.T, def *Definition, stream *fakeStream) (*Conn, chan error) {
	t.Helper()
	conn := NewConn(def, dialerFor(stream), nil)
	done := make(chan error, 1)
	go func() { done <- conn.Connect(context.Background()) }()
	return conn, done
}

func waitEvent(t *testing.T, conn *Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestConnectNegotiatesSessionAndGates(t *testing.T) {
	stream := newFakeStream()
	def := testDefinition(t, tools.NewRegistry())
	conn, done := startConn(t, def, stream)

	if err := conn.SendAudio(context.Background(), "cGNt"); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	stream.mu.Lock()
	updates := len(stream.sessionUpdates)
	first := realtime.SessionParams{}
	if updates > 0 {
		first = stream.sessionUpdates[0]
	}
	audio := append([]string(nil), stream.audio...)
	stream.mu.Unlock()

	if updates != 1 {
		t.Fatalf("session updates = %d, want 1", updates)
	}
	if first.Voice != "alloy" || first.Instructions != "Be helpful." {
		t.Fatalf("session params = %+v", first)
	}
	if len(audio) != 1 || audio[0] != "cGNt" {
		t.Fatalf("audio = %v", audio)
	}

	_ = conn.Close()
	if err := <-done; err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
}

func TestConnectSkipsEmptySessionUpdate(t *testing.T) {
	stream := newFakeStream()
	conn, done := startConn(t, &Definition{Name: "bare", Model: "m"}, stream)

	// Force the gate open by racing a send; once it returns, Connect
	// has passed the negotiation step.
	if err := conn.SendAudio(context.Background(), "x"); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	stream.mu.Lock()
	updates := len(stream.sessionUpdates)
	stream.mu.Unlock()
	if updates != 0 {
		t.Fatalf("session updates = %d, want 0 for all-default params", updates)
	}

	_ = conn.Close()
	<-done
}

func TestSendsBlockUntilConnected(t *testing.T) {
	stream := newFakeStream()
	def := testDefinition(t, tools.NewRegistry())

	// Dialer that never completes until released.
	release := make(chan struct{})
	dialer := realtime.DialFunc(func(ctx context.Context, model string) (realtime.Stream, error) {
		<-release
		return stream, nil
	})
	conn := NewConn(def, dialer, nil)
	done := make(chan error, 1)
	go func() { done <- conn.Connect(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := conn.SendAudio(ctx, "early"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("SendAudio() before connect = %v, want deadline exceeded", err)
	}

	close(release)
	if err := conn.SendAudio(context.Background(), "late"); err != nil {
		t.Fatalf("SendAudio() after connect error = %v", err)
	}

	_ = conn.Close()
	<-done
}

func TestInitialUserMessageSent(t *testing.T) {
	stream := newFakeStream()
	def := testDefinition(t, tools.NewRegistry())
	def.InitialUserMessage = "Greet the user."
	conn, done := startConn(t, def, stream)

	// Synchronize on the gate.
	if err := conn.SendAudio(context.Background(), "x"); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		items := stream.snapshotItems()
		if len(items) >= 1 {
			if items[0].Type != "message" || items[0].Role != "user" ||
				items[0].Content[0].Text != "Greet the user." {
				t.Fatalf("initial item = %+v", items[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial user message never sent")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = conn.Close()
	<-done
}

func TestTranscriptAccumulation(t *testing.T) {
	stream := newFakeStream()
	conn, done := startConn(t, testDefinition(t, tools.NewRegistry()), stream)

	stream.push(&realtime.ServerEvent{Type: realtime.EventResponseAudioTranscript, ItemID: "it_1", Delta: "Hel"})
	stream.push(&realtime.ServerEvent{Type: realtime.EventResponseAudioTranscript, ItemID: "it_1", Delta: "lo"})
	stream.push(&realtime.ServerEvent{Type: realtime.EventResponseAudioTranscript, ItemID: "it_2", Delta: "Bye"})
	stream.push(&realtime.ServerEvent{Type: realtime.EventResponseTextDelta, ItemID: "it_3", Delta: "Hi"})

	want := []struct {
		kind EventKind
		text string
	}{
		{EventResponseAudioTranscript, "Hel"},
		{EventResponseAudioTranscript, "Hello"},
		{EventResponseAudioTranscript, "Bye"},
		{EventResponseTextDelta, "Hi"},
	}
	for i, w := range want {
		ev := waitEvent(t, conn)
		if ev.Kind != w.kind || ev.Text != w.text {
			t.Fatalf("event %d = kind %v text %q, want kind %v text %q", i, ev.Kind, ev.Text, w.kind, w.text)
		}
	}

	_ = conn.Close()
	<-done
}

func TestEventClassification(t *testing.T) {
	stream := newFakeStream()
	conn, done := startConn(t, testDefinition(t, tools.NewRegistry()), stream)

	stream.push(&realtime.ServerEvent{Type: realtime.EventResponseAudioDelta, ItemID: "it_9", Delta: "YXVkaW8="})
	ev := waitEvent(t, conn)
	if ev.Kind != EventAudioDelta || ev.AudioB64 != "YXVkaW8=" || ev.ItemID != "it_9" {
		t.Fatalf("audio event = %+v", ev)
	}

	stream.push(&realtime.ServerEvent{Type: realtime.EventInputTranscriptCompleted, Transcript: "hi there"})
	ev = waitEvent(t, conn)
	if ev.Kind != EventInputTranscript || ev.Text != "hi there" {
		t.Fatalf("input transcript event = %+v", ev)
	}

	stream.push(&realtime.ServerEvent{Type: realtime.EventSpeechStarted})
	if ev = waitEvent(t, conn); ev.Kind != EventUserAudioStarted {
		t.Fatalf("speech started event = %+v", ev)
	}
	stream.push(&realtime.ServerEvent{Type: realtime.EventSpeechStopped})
	if ev = waitEvent(t, conn); ev.Kind != EventUserAudioStopped {
		t.Fatalf("speech stopped event = %+v", ev)
	}

	stream.push(&realtime.ServerEvent{Type: "rate_limits.updated", Raw: []byte(`{"type":"rate_limits.updated"}`)})
	ev = waitEvent(t, conn)
	if ev.Kind != EventUnhandled || ev.UpstreamType != "rate_limits.updated" {
		t.Fatalf("unhandled event = %+v", ev)
	}

	_ = conn.Close()
	<-done
}

func TestUserToolCallDeliversPairWithResponse(t *testing.T) {
	reg := tools.NewRegistry()
	echo, err := tools.NewUserTool("echo", "Echoes input.",
		func(ctx context.Context, in struct {
			Text string `json:"text"`
		}) (string, error) {
			return in.Text, nil
		})
	if err != nil {
		t.Fatalf("NewUserTool() error = %v", err)
	}
	if err := reg.RegisterUser(echo); err != nil {
		t.Fatalf("RegisterUser() error = %v", err)
	}

	stream := newFakeStream()
	conn, done := startConn(t, testDefinition(t, reg, "echo"), stream)

	stream.push(&realtime.ServerEvent{
		Type:      realtime.EventFunctionCallDone,
		CallID:    "call_7",
		Name:      "echo",
		Arguments: `{"text":"ping"}`,
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		items := stream.snapshotItems()
		if len(items) >= 2 {
			if items[0].Type != "function_call" || items[0].CallID != "call_7" {
				t.Fatalf("input item = %+v", items[0])
			}
			if items[1].Type != "function_call_output" || items[1].Output != "ping" {
				t.Fatalf("output item = %+v", items[1])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("tool result pair never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if stream.responseCount() != 1 {
		t.Fatalf("responses = %d, want 1", stream.responseCount())
	}

	_ = conn.Close()
	<-done
}

func routeRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	rt := &tools.RouteTool{
		Name: "switch_agent",
		Params: tools.RouteSchemaParams{
			Description: "Switches agents.",
			Fields: []tools.Field{
				{Name: "current_agent", Description: "Current agent."},
				{Name: "target_agent", Description: "Target agent."},
			},
			CurrentAgentField: "current_agent",
			TargetAgentField:  "target_agent",
		},
	}
	if err := reg.RegisterRoute(rt); err != nil {
		t.Fatalf("RegisterRoute() error = %v", err)
	}
	return reg
}

func TestRouteToolDefersUpstreamAck(t *testing.T) {
	stream := newFakeStream()
	conn, done := startConn(t, testDefinition(t, routeRegistry(t), "switch_agent"), stream)

	stream.push(&realtime.ServerEvent{
		Type:      realtime.EventFunctionCallDone,
		CallID:    "call_8",
		Name:      "switch_agent",
		Arguments: `{"current_agent":"concierge","target_agent":"banker"}`,
	})

	ev := waitEvent(t, conn)
	if ev.Kind != EventAgentSwitched || ev.Switch == nil {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Switch.TargetField != "target_agent" {
		t.Fatalf("TargetField = %q", ev.Switch.TargetField)
	}
	if ev.Switch.Args["target_agent"] != "banker" {
		t.Fatalf("Args = %v", ev.Switch.Args)
	}
	if ev.Switch.Output.Output != DefaultSwitchNotification {
		t.Fatalf("pending output = %q", ev.Switch.Output.Output)
	}

	// Nothing reaches the conversation until the orchestrator decides.
	if items := stream.snapshotItems(); len(items) != 0 {
		t.Fatalf("items delivered before decision: %v", items)
	}

	if err := conn.NotifySwitch(context.Background(), ev.Switch.Input, ev.Switch.Output, false); err != nil {
		t.Fatalf("NotifySwitch() error = %v", err)
	}
	items := stream.snapshotItems()
	if len(items) != 2 {
		t.Fatalf("items after NotifySwitch = %d, want 2", len(items))
	}
	if stream.responseCount() != 0 {
		t.Fatalf("responses = %d, accepted handoff must not request one", stream.responseCount())
	}

	_ = conn.Close()
	<-done
}

func TestRouteToolFailedValidationStaysLocal(t *testing.T) {
	stream := newFakeStream()
	conn, done := startConn(t, testDefinition(t, routeRegistry(t), "switch_agent"), stream)

	stream.push(&realtime.ServerEvent{
		Type:      realtime.EventFunctionCallDone,
		CallID:    "call_9",
		Name:      "switch_agent",
		Arguments: `{"current_agent":"concierge"}`,
	})

	// The error pair goes straight back with a response request and no
	// switch event is emitted.
	deadline := time.Now().Add(2 * time.Second)
	for stream.responseCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("validation error pair never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	items := stream.snapshotItems()
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}

	select {
	case ev := <-conn.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	_ = conn.Close()
	<-done
}

func TestUpdateInstructionsComposesTemplate(t *testing.T) {
	stream := newFakeStream()
	def := testDefinition(t, tools.NewRegistry())
	def.SwitchUserMessage = "Please continue."
	conn, done := startConn(t, def, stream)

	// Synchronize on the gate, then drop the negotiation update.
	if err := conn.SendAudio(context.Background(), "x"); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	err := conn.UpdateInstructions(context.Background(), map[string]any{
		"current_agent": "banker",
		"summary":       "loan talk",
	})
	if err != nil {
		t.Fatalf("UpdateInstructions() error = %v", err)
	}

	stream.mu.Lock()
	updates := append([]realtime.SessionParams(nil), stream.sessionUpdates...)
	stream.mu.Unlock()
	if len(updates) != 2 {
		t.Fatalf("session updates = %d, want 2", len(updates))
	}
	want := "Be helpful.\nTaking over from banker. Summary: loan talk"
	if updates[1].Instructions != want {
		t.Fatalf("instructions = %q, want %q", updates[1].Instructions, want)
	}

	// The switch user message follows the update.
	items := stream.snapshotItems()
	if len(items) != 1 || items[0].Content[0].Text != "Please continue." {
		t.Fatalf("items = %+v", items)
	}

	_ = conn.Close()
	<-done
}

func TestUpdateInstructionsNoTemplateIsNoop(t *testing.T) {
	stream := newFakeStream()
	def := testDefinition(t, tools.NewRegistry())
	def.SwitchContext = ""
	conn, done := startConn(t, def, stream)

	if err := conn.SendAudio(context.Background(), "x"); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}
	if err := conn.UpdateInstructions(context.Background(), nil); err != nil {
		t.Fatalf("UpdateInstructions() error = %v", err)
	}

	stream.mu.Lock()
	updates := len(stream.sessionUpdates)
	stream.mu.Unlock()
	if updates != 1 {
		t.Fatalf("session updates = %d, want only the negotiation one", updates)
	}

	_ = conn.Close()
	<-done
}

func TestCloseTwiceIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	conn, done := startConn(t, testDefinition(t, tools.NewRegistry()), stream)

	if err := conn.SendAudio(context.Background(), "x"); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Connect() after close error = %v", err)
	}

	// The events channel is closed once the loop ends.
	if _, ok := <-conn.Events(); ok {
		t.Fatal("events channel still open after close")
	}
}

func TestTruncateAssistantAudio(t *testing.T) {
	stream := newFakeStream()
	conn, done := startConn(t, testDefinition(t, tools.NewRegistry()), stream)

	if err := conn.TruncateAssistantAudio(context.Background(), 1500, "it_5"); err != nil {
		t.Fatalf("TruncateAssistantAudio() error = %v", err)
	}

	stream.mu.Lock()
	truncs := append([]string(nil), stream.truncations...)
	stream.mu.Unlock()
	if len(truncs) != 1 || truncs[0] != "it_5" {
		t.Fatalf("truncations = %v", truncs)
	}

	_ = conn.Close()
	<-done
}

func TestFormatTemplate(t *testing.T) {
	got := FormatTemplate("From {a} to {b}, keep {c}.", map[string]any{"a": "x", "b": 2})
	want := "From x to 2, keep {c}."
	if got != want {
		t.Fatalf("FormatTemplate() = %q, want %q", got, want)
	}
}

func TestDialFailureFailsBlockedSenders(t *testing.T) {
	dialErr := errors.New("upstream unreachable")
	dialer := realtime.DialFunc(func(ctx context.Context, model string) (realtime.Stream, error) {
		return nil, dialErr
	})
	conn := NewConn(testDefinition(t, tools.NewRegistry()), dialer, nil)

	// A sender blocked on the gate before the dial resolves.
	sendErr := make(chan error, 1)
	go func() { sendErr <- conn.SendAudio(context.Background(), "cGNt") }()

	connectErr := conn.Connect(context.Background())
	if !errors.Is(connectErr, dialErr) {
		t.Fatalf("Connect() error = %v, want %v", connectErr, dialErr)
	}

	select {
	case err := <-sendErr:
		if !errors.Is(err, dialErr) {
			t.Fatalf("SendAudio() error = %v, want %v", err, dialErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendAudio stayed blocked after dial failure")
	}

	// Later sends fail fast instead of waiting on a connection that
	// will never come.
	if err := conn.SendUserMessage(context.Background(), "hi"); !errors.Is(err, dialErr) {
		t.Fatalf("SendUserMessage() error = %v, want %v", err, dialErr)
	}
	if err := conn.UpdateInstructions(context.Background(), map[string]any{"summary": "s"}); !errors.Is(err, dialErr) {
		t.Fatalf("UpdateInstructions() error = %v, want %v", err, dialErr)
	}
	if err := conn.NotifySwitch(context.Background(), realtime.Item{}, realtime.Item{}, false); !errors.Is(err, dialErr) {
		t.Fatalf("NotifySwitch() error = %v, want %v", err, dialErr)
	}
}

func TestCloseBeforeConnectUnblocksSenders(t *testing.T) {
	dialed := make(chan struct{})
	release := make(chan struct{})
	stream := newFakeStream()
	dialer := realtime.DialFunc(func(ctx context.Context, model string) (realtime.Stream, error) {
		close(dialed)
		<-release
		return stream, nil
	})
	conn := NewConn(testDefinition(t, tools.NewRegistry()), dialer, nil)

	done := make(chan error, 1)
	go func() { done <- conn.Connect(context.Background()) }()

	sendErr := make(chan error, 1)
	go func() { sendErr <- conn.SendAudio(context.Background(), "cGNt") }()

	<-dialed
	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	select {
	case err := <-sendErr:
		if err == nil {
			t.Fatal("SendAudio() succeeded on a closed connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SendAudio stayed blocked after Close")
	}
}
