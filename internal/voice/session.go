package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Damitimo/Google-Reserva/internal/config"
	"github.com/Damitimo/Google-Reserva/internal/observe"
	"github.com/Damitimo/Google-Reserva/internal/tools"
	"github.com/Damitimo/Google-Reserva/pkg/audio/capture"
	"github.com/Damitimo/Google-Reserva/pkg/audio/device"
	"github.com/Damitimo/Google-Reserva/pkg/audio/playback"
	"github.com/Damitimo/Google-Reserva/pkg/audio/vad"
	"github.com/Damitimo/Google-Reserva/pkg/live"
)

// DefaultSystemInstruction is the concierge persona used when the
// configuration does not override it.
const DefaultSystemInstruction = `You are Donna, a warm and helpful dining concierge. You help users find restaurants and make reservations.

CRITICAL RULES:
1. Only speak your direct responses to the user. NEVER speak your internal thoughts or reasoning out loud.
2. ALWAYS use check_calendar before confirming any reservation time to ensure the user is free.
3. If there's a calendar conflict, tell the user about it naturally and offer the suggested alternatives.

Your capabilities:
- check_calendar: Check if user is free at a specific time. ALWAYS use this before booking.
- make_reservation: Complete a restaurant reservation
- process_payment: Charge the user's card for reservation deposits ($25 typical)
- set_reminder: Set reminders (e.g., to cancel if plans change)

Your personality:
- Warm, knowledgeable, and efficient
- Speak naturally like a trusted friend who knows all the best spots
- Keep responses concise (2-3 sentences max)
- Be proactive about checking calendar and offering reminders

Reservation flow:
1. Gather preferences (location, cuisine, party size, time, dietary needs)
2. Suggest a restaurant
3. ALWAYS check_calendar for the proposed time
4. If conflict, suggest alternatives from the calendar response
5. Once time is confirmed, process_payment for deposit
6. make_reservation to confirm
7. Offer to set_reminder for cancellation

Remember this is a voice conversation. Be natural and conversational.`

// State is the user-facing phase of a voice session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateListening
	StateProcessing
	StateSpeaking
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// liveClient is the transport surface a session needs. *live.Client
// satisfies it.
type liveClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	On(t live.EventType, h live.Handler)
	SendAudio(pcm []byte) error
	SendToolResponse(id, name string, response map[string]any) error
	State() live.State
}

var _ liveClient = (*live.Client)(nil)

// Session runs one voice conversation end to end: microphone capture
// through speech detection and the live transport to speaker playback,
// with local tool execution in between.
type Session struct {
	cfg     config.Config
	manager *Manager
	tokens  TokenSource
	reg     *tools.Registry
	in      device.Input
	out     device.Output
	log     *slog.Logger
	metrics *observe.Metrics

	// dial opens the transport for a key. Swapped in tests.
	dial func(apiKey string) liveClient

	onState func(State)

	mu        sync.Mutex
	active    bool
	done      chan struct{}
	token     string
	client    liveClient
	rec       *capture.Recorder
	player    *playback.Player
	det       *vad.Detector
	startedAt time.Time
	state     State
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithLogger sets the session logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithStateFunc registers a callback invoked on every state change.
// It is called synchronously; keep it fast.
func WithStateFunc(fn func(State)) SessionOption {
	return func(s *Session) { s.onState = fn }
}

// NewSession builds a session over the given devices. The session does
// not touch the devices or the network until [Session.Start].
func NewSession(cfg config.Config, mgr *Manager, tokens TokenSource, reg *tools.Registry,
	in device.Input, out device.Output, opts ...SessionOption) *Session {

	s := &Session{
		cfg:     cfg,
		manager: mgr,
		tokens:  tokens,
		reg:     reg,
		in:      in,
		out:     out,
		log:     slog.Default(),
		metrics: observe.DefaultMetrics(),
		state:   StateIdle,
	}
	s.dial = func(apiKey string) liveClient {
		lc := cfg.Live
		instruction := lc.SystemInstruction
		if instruction == "" {
			instruction = DefaultSystemInstruction
		}
		var clientOpts []live.Option
		if lc.BaseURL != "" {
			clientOpts = append(clientOpts, live.WithBaseURL(lc.BaseURL))
		}
		if d := lc.DialTimeout.Std(); d > 0 {
			clientOpts = append(clientOpts, live.WithDialTimeout(d))
		}
		if d := lc.AckTimeout.Std(); d > 0 {
			clientOpts = append(clientOpts, live.WithAckTimeout(d))
		}
		clientOpts = append(clientOpts, live.WithLogger(s.log))
		return live.New(apiKey, live.SessionConfig{
			Model:             lc.Model,
			Voice:             lc.Voice,
			SystemInstruction: instruction,
			Tools:             reg.Declarations(),
		}, clientOpts...)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done returns a channel closed when the session tears down, whether by
// [Session.Close] or a transport failure. Valid after a successful
// [Session.Start]; a later Start resets it.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start acquires the active-session slot and brings the full pipeline
// up. When another session already holds the slot the call is a logical
// no-op and returns nil without touching devices or the network.
func (s *Session) Start(ctx context.Context) error {
	token, ok := s.manager.TryAcquire()
	if !ok {
		return nil
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.setState(StateConnecting)

	err := s.start(ctx)
	if err != nil {
		s.manager.Release(token)
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
		s.setState(StateIdle)
		return err
	}
	return nil
}

func (s *Session) start(ctx context.Context) error {
	apiKey, err := s.tokens.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("voice: start: %w", err)
	}

	client := s.dial(apiKey)

	rec := capture.New(s.in, capture.WithLogger(s.log))

	playerOpts := []playback.Option{
		playback.WithLogger(s.log),
		playback.WithCallbacks(
			func() {
				rec.Mute()
				s.setState(StateSpeaking)
			},
			func() {
				rec.Unmute()
				s.setState(StateListening)
			},
		),
		playback.WithUnderrunFunc(func(lag time.Duration) {
			s.metrics.PlaybackUnderruns.Add(context.Background(), 1)
			s.log.Warn("playback fell behind", "lag", lag)
		}),
	}
	if d := s.cfg.Audio.GuardBand.Std(); d > 0 {
		playerOpts = append(playerOpts, playback.WithGuardBand(d))
	}
	player := playback.New(s.out, playerOpts...)

	vadOpts := []vad.Option{
		vad.WithCallbacks(
			func() {
				s.metrics.SpeechSegments.Add(context.Background(), 1)
				if player.Playing() {
					s.log.Debug("user spoke over playback, interrupting")
					player.Interrupt()
				}
			},
			nil,
		),
	}
	if t := s.cfg.Audio.VADThreshold; t > 0 {
		vadOpts = append(vadOpts, vad.WithThreshold(t))
	}
	if d := s.cfg.Audio.VADSilenceWindow.Std(); d > 0 {
		vadOpts = append(vadOpts, vad.WithSilenceWindow(d))
	}
	det := vad.New(vadOpts...)

	client.On(live.EventAudio, func(ev live.Event) {
		s.metrics.RecordAudioChunk(context.Background(), "received")
		player.Enqueue(ev.Audio)
	})
	client.On(live.EventInterrupted, func(live.Event) {
		player.Interrupt()
	})
	client.On(live.EventToolCall, func(ev live.Event) {
		if ev.ToolCall == nil {
			return
		}
		s.setState(StateProcessing)
		payload := s.reg.Dispatch(context.Background(), *ev.ToolCall)
		if err := client.SendToolResponse(ev.ToolCall.ID, ev.ToolCall.Name, payload); err != nil {
			s.log.Error("could not send tool response", "tool", ev.ToolCall.Name, "error", err)
		}
	})
	client.On(live.EventTurnComplete, func(live.Event) {
		if !player.Playing() {
			s.setState(StateListening)
		}
	})
	client.On(live.EventError, func(ev live.Event) {
		s.log.Error("session transport error", "error", ev.Err)
		go func() {
			if err := s.closeMatching(client); err != nil {
				s.log.Error("teardown after transport error failed", "error", err)
			}
		}()
	})

	connectStart := time.Now()
	if err := client.Connect(ctx); err != nil {
		s.metrics.RecordConnect(context.Background(), time.Since(connectStart), "error")
		return fmt.Errorf("voice: connect: %w", err)
	}
	s.metrics.RecordConnect(context.Background(), time.Since(connectStart), "ok")

	if err := rec.Start(func(pcm []byte) {
		det.Process(pcm)
		s.metrics.RecordAudioChunk(context.Background(), "sent")
		if err := client.SendAudio(pcm); err != nil {
			s.log.Warn("dropping capture chunk", "error", err)
		}
	}); err != nil {
		_ = client.Disconnect()
		_ = player.Dispose()
		return fmt.Errorf("voice: start capture: %w", err)
	}

	s.mu.Lock()
	s.active = true
	s.done = make(chan struct{})
	s.client = client
	s.rec = rec
	s.player = player
	s.det = det
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(context.Background(), 1)
	s.setState(StateListening)
	s.log.Info("voice session started")
	return nil
}

// Close tears the pipeline down and releases this session's slot claim
// only. Closing an inactive session is a no-op.
func (s *Session) Close() error {
	return s.closeMatching(nil)
}

// closeMatching is Close restricted to the session epoch that origin
// belongs to: a teardown triggered by an old transport's error must not
// take down a session that has since been restarted. A nil origin
// matches any epoch.
func (s *Session) closeMatching(origin liveClient) error {
	s.mu.Lock()
	if !s.active || (origin != nil && s.client != origin) {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	close(s.done)
	token := s.token
	s.token = ""
	client, rec, player, det := s.client, s.rec, s.player, s.det
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()

	var errs []error
	if err := rec.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("voice: stop capture: %w", err))
	}
	if err := player.Dispose(); err != nil {
		errs = append(errs, err)
	}
	det.Reset()
	if err := client.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("voice: disconnect: %w", err))
	}

	s.manager.Release(token)
	s.metrics.ActiveSessions.Add(context.Background(), -1)
	s.metrics.SessionDuration.Record(context.Background(), elapsed.Seconds())
	s.setState(StateIdle)
	s.log.Info("voice session closed", "duration", elapsed)
	return errors.Join(errs...)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	fn := s.onState
	s.mu.Unlock()

	s.log.Debug("session state", "state", st)
	if fn != nil {
		fn(st)
	}
}
