package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Damitimo/Google-Reserva/internal/config"
	"github.com/Damitimo/Google-Reserva/internal/tools"
	"github.com/Damitimo/Google-Reserva/pkg/audio"
	"github.com/Damitimo/Google-Reserva/pkg/audio/device/mock"
	"github.com/Damitimo/Google-Reserva/pkg/live"
)

// fakeClient is an in-memory stand-in for [live.Client].
type fakeClient struct {
	mu sync.Mutex

	connectErr error

	connectCalls    int
	disconnectCalls int
	sentAudio       [][]byte
	toolResponses   []toolResponse
	handlers        map[live.EventType][]live.Handler
	state           live.State
}

type toolResponse struct {
	id      string
	name    string
	payload map[string]any
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[live.EventType][]live.Handler)}
}

func (f *fakeClient) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = live.StateReady
	return nil
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnectCalls++
	f.state = live.StateDisconnected
	return nil
}

func (f *fakeClient) On(t live.EventType, h live.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[t] = append(f.handlers[t], h)
}

func (f *fakeClient) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentAudio = append(f.sentAudio, pcm)
	return nil
}

func (f *fakeClient) SendToolResponse(id, name string, response map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolResponses = append(f.toolResponses, toolResponse{id: id, name: name, payload: response})
	return nil
}

func (f *fakeClient) State() live.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) emit(ev live.Event) {
	f.mu.Lock()
	hs := make([]live.Handler, len(f.handlers[ev.Type]))
	copy(hs, f.handlers[ev.Type])
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

var _ liveClient = (*fakeClient)(nil)

type sessionFixture struct {
	session *Session
	client  *fakeClient
	in      *mock.Input
	out     *mock.Output
	manager *Manager
	states  *stateLog
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.states))
	copy(out, l.states)
	return out
}

func newFixture(t *testing.T, mgr *Manager) *sessionFixture {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	if mgr == nil {
		mgr = NewManager(log)
	}

	f := &sessionFixture{
		client:  newFakeClient(),
		in:      &mock.Input{},
		out:     &mock.Output{},
		manager: mgr,
		states:  &stateLog{},
	}

	reg := tools.NewRegistry(log)
	f.session = NewSession(config.Config{}, mgr, StaticTokenSource("test-key"), reg,
		f.in, f.out,
		WithLogger(log),
		WithStateFunc(f.states.record),
	)
	f.session.dial = func(string) liveClient { return f.client }
	return f
}

func mustStart(t *testing.T, f *sessionFixture) {
	t.Helper()
	if err := f.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.session.Close() })
}

// speech returns a loud capture frame, silence a quiet one.
func speech(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.5
	}
	return s
}

func TestSessionStartWiresPipeline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	mustStart(t, f)

	if f.client.connectCalls != 1 {
		t.Errorf("connectCalls = %d, want 1", f.client.connectCalls)
	}
	if f.in.CallCountStart != 1 {
		t.Errorf("device starts = %d, want 1", f.in.CallCountStart)
	}
	if got := f.session.State(); got != StateListening {
		t.Errorf("State = %v, want listening", got)
	}
	if !f.manager.Active() {
		t.Error("manager should hold the session slot")
	}

	// Captured frames flow to the transport as PCM16.
	f.in.Emit(speech(160))
	f.client.mu.Lock()
	sent := len(f.client.sentAudio)
	f.client.mu.Unlock()
	if sent != 1 {
		t.Fatalf("sentAudio = %d chunks, want 1", sent)
	}
}

func TestSecondSessionIsLogicalNoOp(t *testing.T) {
	t.Parallel()

	first := newFixture(t, nil)
	mustStart(t, first)

	second := newFixture(t, first.manager)
	if err := second.session.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if second.client.connectCalls != 0 {
		t.Errorf("second session connected %d times, want 0", second.client.connectCalls)
	}
	if second.in.CallCountStart != 0 {
		t.Errorf("second session started devices %d times, want 0", second.in.CallCountStart)
	}
	if got := second.session.State(); got != StateIdle {
		t.Errorf("second session state = %v, want idle", got)
	}
}

func TestSessionNoKeyIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.session.tokens = StaticTokenSource("")

	err := f.session.Start(context.Background())
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("Start error = %v, want ErrNoAPIKey", err)
	}
	if f.manager.Active() {
		t.Error("failed start must release the session slot")
	}
	if f.in.CallCountStart != 0 {
		t.Error("failed start must not touch the capture device")
	}
}

func TestSessionConnectFailureReleasesSlot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.client.connectErr = live.ErrConnectTimeout

	err := f.session.Start(context.Background())
	if !errors.Is(err, live.ErrConnectTimeout) {
		t.Fatalf("Start error = %v, want ErrConnectTimeout", err)
	}
	if f.manager.Active() {
		t.Error("failed start must release the session slot")
	}
	if got := f.session.State(); got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestPlaybackMutesCaptureUntilDone(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	mustStart(t, f)

	pcm := audio.FloatToPCM16(make([]float32, 240))
	f.client.emit(live.Event{Type: live.EventAudio, Audio: pcm})

	// Playback began, so the mic is muted and captured frames are
	// computed but not delivered.
	f.in.Emit(speech(160))
	f.client.mu.Lock()
	sent := len(f.client.sentAudio)
	f.client.mu.Unlock()
	if sent != 0 {
		t.Fatalf("sentAudio = %d chunks while muted, want 0", sent)
	}
	if got := f.session.State(); got != StateSpeaking {
		t.Errorf("state = %v, want speaking", got)
	}

	f.out.Finish(0)

	f.in.Emit(speech(160))
	f.client.mu.Lock()
	sent = len(f.client.sentAudio)
	f.client.mu.Unlock()
	if sent != 1 {
		t.Fatalf("sentAudio = %d chunks after playback end, want 1", sent)
	}
	if got := f.session.State(); got != StateListening {
		t.Errorf("state = %v, want listening", got)
	}
}

func TestServerInterruptedStopsPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	mustStart(t, f)

	pcm := audio.FloatToPCM16(make([]float32, 240))
	f.client.emit(live.Event{Type: live.EventAudio, Audio: pcm})
	f.client.emit(live.Event{Type: live.EventInterrupted})

	if len(f.out.ScheduleCalls) != 1 {
		t.Fatalf("scheduled %d buffers, want 1", len(f.out.ScheduleCalls))
	}
	if f.out.ScheduleCalls[0].Source.CallCountStop != 1 {
		t.Errorf("source stops = %d, want 1", f.out.ScheduleCalls[0].Source.CallCountStop)
	}

	// Interruption ends the playback episode, so the mic is live again.
	f.in.Emit(speech(160))
	f.client.mu.Lock()
	sent := len(f.client.sentAudio)
	f.client.mu.Unlock()
	if sent != 1 {
		t.Errorf("sentAudio = %d chunks after interrupt, want 1", sent)
	}
}

func TestToolCallAnsweredExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.session.reg.Register(live.ToolDeclaration{Name: "check_calendar"},
		func(context.Context, map[string]any) (map[string]any, error) {
			return map[string]any{"available": true}, nil
		})
	mustStart(t, f)

	f.client.emit(live.Event{Type: live.EventToolCall, ToolCall: &live.ToolCall{
		ID:   "fc-9",
		Name: "check_calendar",
		Args: map[string]any{"date": "tomorrow", "time": "7pm"},
	}})

	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	if len(f.client.toolResponses) != 1 {
		t.Fatalf("toolResponses = %d, want exactly one", len(f.client.toolResponses))
	}
	resp := f.client.toolResponses[0]
	if resp.id != "fc-9" || resp.name != "check_calendar" {
		t.Errorf("response routed as (%q, %q)", resp.id, resp.name)
	}
	if resp.payload["available"] != true {
		t.Errorf("payload = %v", resp.payload)
	}
}

func TestThrowingToolHandlerStillAnswered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.session.reg.Register(live.ToolDeclaration{Name: "explosive"},
		func(context.Context, map[string]any) (map[string]any, error) {
			panic("boom")
		})
	mustStart(t, f)

	f.client.emit(live.Event{Type: live.EventToolCall, ToolCall: &live.ToolCall{
		ID:   "fc-10",
		Name: "explosive",
	}})

	f.client.mu.Lock()
	defer f.client.mu.Unlock()
	if len(f.client.toolResponses) != 1 {
		t.Fatalf("toolResponses = %d, want exactly one", len(f.client.toolResponses))
	}
	if _, ok := f.client.toolResponses[0].payload["error"]; !ok {
		t.Errorf("payload = %v, want an error-shaped response", f.client.toolResponses[0].payload)
	}
}

func TestTransportErrorTearsDown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	mustStart(t, f)

	f.client.emit(live.Event{Type: live.EventError, Err: errors.New("quota exceeded")})

	deadline := time.After(2 * time.Second)
	for f.manager.Active() {
		select {
		case <-deadline:
			t.Fatal("session never released its slot after a transport error")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if f.in.CallCountStop == 0 {
		t.Error("capture device not stopped on teardown")
	}
	if f.out.CallCountClose == 0 {
		t.Error("output device not closed on teardown")
	}
}

func TestCloseReleasesOwnTokenOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	mustStart(t, f)

	if err := f.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f.manager.Active() {
		t.Fatal("slot still held after Close")
	}
	if f.client.disconnectCalls != 1 {
		t.Errorf("disconnects = %d, want 1", f.client.disconnectCalls)
	}

	// Closing again is a no-op.
	if err := f.session.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if f.client.disconnectCalls != 1 {
		t.Errorf("disconnects after second Close = %d, want 1", f.client.disconnectCalls)
	}

	// A fresh session can start once the slot is free.
	next := newFixture(t, f.manager)
	if err := next.session.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer next.session.Close()
	if next.client.connectCalls != 1 {
		t.Errorf("restart connects = %d, want 1", next.client.connectCalls)
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	mustStart(t, f)
	_ = f.session.Close()

	got := f.states.all()
	want := []State{StateConnecting, StateListening, StateIdle}
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("states[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
