// Package capture records microphone audio as 16 kHz mono PCM16 chunks.
//
// A [Recorder] owns a [device.Input] and converts each captured float32
// window into little-endian PCM16 before handing it to the chunk callback.
// Muting suppresses delivery without stopping the capture stream, so the
// device keeps running and unmuting resumes instantly.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Damitimo/Google-Reserva/pkg/audio"
	"github.com/Damitimo/Google-Reserva/pkg/audio/device"
)

// DefaultFrameSize is the capture window in samples (256 ms at 16 kHz).
const DefaultFrameSize = 4096

// Recorder captures microphone audio and delivers PCM16 chunks.
// Create one with [New]; the zero value is not usable.
type Recorder struct {
	input device.Input
	log   *slog.Logger

	muted atomic.Bool

	mu      sync.Mutex
	started bool
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithLogger sets the logger used for capture diagnostics.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(r *Recorder) { r.log = log }
}

// New creates a Recorder over the given input device.
func New(input device.Input, opts ...Option) *Recorder {
	r := &Recorder{
		input: input,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens the capture stream and delivers each captured window to
// onChunk as PCM16 bytes. onChunk is called from the device's capture
// goroutine, one chunk at a time in capture order; it must not block for
// long or the device will drop frames.
//
// Starting an already started recorder is an error. Device failures
// surface the underlying error, typically wrapping [device.ErrUnavailable].
func (r *Recorder) Start(onChunk func(pcm []byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("capture: start: recorder already started")
	}
	err := r.input.Start(func(samples []float32) {
		if r.muted.Load() {
			return
		}
		onChunk(audio.FloatToPCM16(samples))
	})
	if err != nil {
		return fmt.Errorf("capture: start: %w", err)
	}
	r.started = true
	r.log.Debug("capture started")
	return nil
}

// Mute suppresses chunk delivery. The device keeps capturing.
func (r *Recorder) Mute() { r.muted.Store(true) }

// Unmute resumes chunk delivery.
func (r *Recorder) Unmute() { r.muted.Store(false) }

// Muted reports whether delivery is currently suppressed.
func (r *Recorder) Muted() bool { return r.muted.Load() }

// Stop closes the capture stream. Safe to call multiple times and before
// Start; only the first call after a successful Start touches the device.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started = false
	if err := r.input.Stop(); err != nil {
		return fmt.Errorf("capture: stop: %w", err)
	}
	r.log.Debug("capture stopped")
	return nil
}
