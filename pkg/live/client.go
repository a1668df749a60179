// Package live implements the client side of a BidiGenerateContent voice
// session over WebSocket.
//
// A [Client] dials the endpoint, performs the setup handshake, then exchanges
// JSON frames: outbound microphone audio and tool responses, inbound model
// audio, text, tool calls and turn markers. Inbound frames are processed
// strictly in arrival order; every subscriber callback for a frame completes
// before the next frame is parsed. Malformed frames are logged and dropped
// without tearing the connection down.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// DefaultDialTimeout bounds the WebSocket dial during [Client.Connect].
	DefaultDialTimeout = 5 * time.Second
	// DefaultAckTimeout bounds the wait for the server's setup acknowledgement.
	DefaultAckTimeout = 10 * time.Second

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	inputMIMEType = "audio/pcm;rate=16000"
)

// ErrConnectTimeout is wrapped by [Client.Connect] when the dial or the setup
// acknowledgement does not complete within its deadline.
var ErrConnectTimeout = errors.New("live: connect timed out")

// State is the connection lifecycle state of a [Client].
type State int

const (
	// StateDisconnected is the initial and final state.
	StateDisconnected State = iota
	// StateConnecting covers the WebSocket dial.
	StateConnecting
	// StateAwaitingSetup covers the window between sending the setup frame
	// and receiving the server's acknowledgement.
	StateAwaitingSetup
	// StateReady is the steady state: audio and tool traffic may flow.
	StateReady
	// StateClosing covers a client-initiated disconnect in progress.
	StateClosing
	// StateFailed is terminal for a connect attempt that did not reach ready.
	StateFailed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetup:
		return "awaiting_setup"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ToolDeclaration describes one callable function advertised to the model
// in the setup frame.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SessionConfig is the per-session setup sent during the handshake.
type SessionConfig struct {
	// Model names the model to converse with. Empty selects a default
	// live-capable model.
	Model string
	// Voice selects a prebuilt voice for audio responses. Optional.
	Voice string
	// SystemInstruction primes the model's behaviour. Optional.
	SystemInstruction string
	// Tools are advertised at setup time; they cannot change mid-session.
	Tools []ToolDeclaration
}

// Client is a voice-session client. Create one with [New]; the zero value is
// not usable. A Client may be connected and disconnected repeatedly, but runs
// at most one session at a time.
type Client struct {
	apiKey  string
	cfg     SessionConfig
	baseURL string
	log     *slog.Logger

	dialTimeout time.Duration
	ackTimeout  time.Duration

	writeMu sync.Mutex // serializes WebSocket writes

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	sessCtx  context.Context
	cancel   context.CancelFunc
	ready    chan struct{}
	readErr  error
	handlers map[EventType][]Handler
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithDialTimeout overrides [DefaultDialTimeout].
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithAckTimeout overrides [DefaultAckTimeout].
func WithAckTimeout(d time.Duration) Option {
	return func(c *Client) { c.ackTimeout = d }
}

// WithLogger sets the logger used for session diagnostics.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client with the given API key and session configuration.
func New(apiKey string, cfg SessionConfig, opts ...Option) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	c := &Client{
		apiKey:      apiKey,
		cfg:         cfg,
		baseURL:     defaultBaseURL,
		log:         slog.Default(),
		dialTimeout: DefaultDialTimeout,
		ackTimeout:  DefaultAckTimeout,
		state:       StateDisconnected,
		handlers:    map[EventType][]Handler{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On subscribes handler to events of type t. Multiple handlers per type run
// in registration order. Subscriptions survive reconnects.
func (c *Client) On(t EventType, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[t] = append(c.handlers[t], handler)
}

// Connect dials the endpoint, sends the setup frame and blocks until the
// server acknowledges it. It returns nil only once the session is ready for
// audio. On any failure the transport is torn down, the state is
// [StateFailed] and the returned error wraps [ErrConnectTimeout] for
// deadline misses or the underlying transport error otherwise.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateDisconnected, StateFailed:
	default:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("live: connect: session already %s", st)
	}
	c.state = StateConnecting
	ready := make(chan struct{})
	c.ready = ready
	c.readErr = nil
	c.mu.Unlock()

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		c.baseURL, c.apiKey,
	)

	dialCtx, dialCancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	dialCancel()
	if err != nil {
		c.fail()
		if dialCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("live: dial: %w", ErrConnectTimeout)
		}
		return fmt.Errorf("live: dial: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.sessCtx = sessCtx
	c.cancel = cancel
	c.state = StateAwaitingSetup
	c.mu.Unlock()

	if err := c.writeJSON(c.setupFrame()); err != nil {
		c.teardown(conn, cancel)
		c.fail()
		return fmt.Errorf("live: setup: %w", err)
	}

	go c.receiveLoop(conn, sessCtx)
	go c.keepaliveLoop(conn, sessCtx)

	ackTimer := time.NewTimer(c.ackTimeout)
	defer ackTimer.Stop()
	select {
	case <-ready:
		c.log.Info("session ready", "model", c.cfg.Model)
		return nil
	case <-ackTimer.C:
		c.teardown(conn, cancel)
		c.fail()
		return fmt.Errorf("live: setup ack: %w", ErrConnectTimeout)
	case <-ctx.Done():
		c.teardown(conn, cancel)
		c.fail()
		return fmt.Errorf("live: connect: %w", ctx.Err())
	case <-sessCtx.Done():
		// The receive loop hit a transport error, or Disconnect raced in.
		c.mu.Lock()
		readErr := c.readErr
		c.mu.Unlock()
		c.teardown(conn, cancel)
		if readErr != nil {
			c.fail()
			return fmt.Errorf("live: connect: %w", readErr)
		}
		return fmt.Errorf("live: connect: disconnected during handshake")
	}
}

// SendAudio streams one PCM16 chunk (16 kHz mono) to the model. Chunks sent
// while the session is not ready are silently dropped, so callers can keep a
// capture pipeline running across reconnects.
func (c *Client) SendAudio(pcm []byte) error {
	c.mu.Lock()
	ok := c.state == StateReady
	c.mu.Unlock()
	if !ok {
		return nil
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			Audio: audioBlob{
				MIMEType: inputMIMEType,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			},
		},
	}
	return c.writeJSON(msg)
}

// SendText submits a complete user text turn.
func (c *Client) SendText(text string) error {
	if err := c.requireReady("send text"); err != nil {
		return err
	}
	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{{
				Role:  "user",
				Parts: []part{{Text: text}},
			}},
			TurnComplete: true,
		},
	}
	return c.writeJSON(msg)
}

// SendToolResponse answers one tool call. The id must be echoed verbatim
// from the [ToolCall]; response is the function's result object.
func (c *Client) SendToolResponse(id, name string, response map[string]any) error {
	if err := c.requireReady("send tool response"); err != nil {
		return err
	}
	msg := toolResponseMessage{
		ToolResponse: toolResponsePayload{
			FunctionResponses: []functionResponse{{
				ID:       id,
				Name:     name,
				Response: response,
			}},
		},
	}
	return c.writeJSON(msg)
}

// Disconnect closes the transport and returns the client to
// [StateDisconnected]. Safe to call from any state, including mid-handshake
// and repeatedly.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.cancel = nil
	if conn != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if conn != nil {
		cancel()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	return nil
}

func (c *Client) requireReady(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return fmt.Errorf("live: %s: session %s", op, c.state)
	}
	return nil
}

func (c *Client) fail() {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
}

// teardown releases a session's transport without touching state.
func (c *Client) teardown(conn *websocket.Conn, cancel context.CancelFunc) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.cancel = nil
	}
	c.mu.Unlock()
	cancel()
	conn.Close(websocket.StatusInternalError, "session aborted")
}

func (c *Client) setupFrame() setupMessage {
	msg := setupMessage{
		Setup: setupPayload{
			Model: fmt.Sprintf("models/%s", c.cfg.Model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}
	if c.cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.cfg.Voice},
			},
		}
	}
	if c.cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: c.cfg.SystemInstruction}},
		}
	}
	if len(c.cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(c.cfg.Tools))
		for i, t := range c.cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []toolBundle{{FunctionDeclarations: decls}}
	}
	return msg
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	conn := c.conn
	ctx := c.sessCtx
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("live: write: no connection")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("live: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("live: write: %w", err)
	}
	return nil
}

// receiveLoop reads frames until the session ends. Frames are dispatched
// one at a time: subscriber callbacks finish before the next read.
func (c *Client) receiveLoop(conn *websocket.Conn, ctx context.Context) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // client-initiated close
			}
			c.mu.Lock()
			c.readErr = err
			wasReady := c.state == StateReady
			if wasReady {
				c.state = StateDisconnected
				c.conn = nil
			}
			cancel := c.cancel
			c.cancel = nil
			c.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			if wasReady {
				c.emit(Event{Type: EventError, Err: fmt.Errorf("live: read: %w", err)})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("dropping malformed frame", "error", err, "bytes", len(data))
			continue
		}
		c.dispatch(&msg)
	}
}

func (c *Client) dispatch(msg *serverMessage) {
	if msg.SetupComplete != nil {
		c.mu.Lock()
		if c.state == StateAwaitingSetup {
			c.state = StateReady
			close(c.ready)
		}
		c.mu.Unlock()
	}
	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = "unknown server error"
		}
		c.emit(Event{Type: EventError, Err: fmt.Errorf("live: server: %s", text)})
	}
	if msg.ServerContent != nil {
		c.dispatchServerContent(msg.ServerContent)
	}
	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			c.emit(Event{Type: EventToolCall, ToolCall: &ToolCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			}})
		}
	}
}

func (c *Client) dispatchServerContent(sc *serverContent) {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					c.log.Warn("dropping undecodable audio part", "error", err)
					continue
				}
				if len(pcm) > 0 {
					c.emit(Event{Type: EventAudio, Audio: pcm})
				}
			}
			if p.Text != "" {
				c.emit(Event{Type: EventText, Text: p.Text})
			}
			if p.FunctionCall != nil {
				// Alternate framing: some servers embed the call in the
				// model turn instead of a toolCall message.
				c.emit(Event{Type: EventToolCall, ToolCall: &ToolCall{
					ID:   p.FunctionCall.ID,
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			}
		}
	}
	if sc.Interrupted {
		c.emit(Event{Type: EventInterrupted})
	}
	if sc.TurnComplete {
		c.emit(Event{Type: EventTurnComplete})
	}
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	hs := make([]Handler, len(c.handlers[ev.Type]))
	copy(hs, c.handlers[ev.Type])
	c.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// keepaliveLoop pings the server to keep long idle sessions alive.
func (c *Client) keepaliveLoop(conn *websocket.Conn, ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
			_ = conn.Ping(pingCtx)
			cancel()
		}
	}
}
