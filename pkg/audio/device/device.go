// Package device defines the platform audio-device contract for the Reserva
// voice pipeline: mono capture at the input rate yielding float32 sample
// windows, and mono playback at the output rate driven by a device clock.
//
// The interfaces are intentionally narrow so that the capture and playback
// layers stay decoupled from the audio backend. A PortAudio implementation
// is provided behind the `portaudio` build tag; without the tag the
// constructors return [ErrUnavailable] so that headless builds and tests
// (which use the mock subpackage) still compile and run.
package device

import (
	"errors"
	"time"
)

// ErrUnavailable is returned when an audio device cannot be opened: the
// binary was built without a backend, the hardware is missing, or access
// was denied. It is fatal to the session; no automatic retry is attempted.
var ErrUnavailable = errors.New("device: audio device unavailable")

// Input is an open microphone capture handle. It delivers fixed-size
// windows of mono float32 samples, in capture order, on an internal
// goroutine for the lifetime of the stream.
type Input interface {
	// Start begins capture and invokes onFrame once per window until Stop.
	// The slice passed to onFrame is only valid for the duration of the
	// call; implementations may reuse it.
	Start(onFrame func(samples []float32)) error

	// Stop releases the capture stream. Idempotent; safe without a prior
	// successful Start.
	Stop() error
}

// Source is a single scheduled playback buffer. Stop cancels whatever part
// of it has not yet sounded; stopping a finished source is a no-op.
type Source interface {
	Stop()
}

// Output is an open playback device with its own monotonic clock. Buffers
// are scheduled at absolute positions on that clock, which is the basis of
// the player's gapless back-to-back scheduling.
type Output interface {
	// Now returns the current position of the device clock. The clock
	// starts at zero when the device is opened and only moves forward.
	Now() time.Duration

	// Schedule queues a mono float32 buffer to begin sounding at start on
	// the device clock. done, if non-nil, is invoked exactly once when the
	// buffer finishes sounding or is stopped. A start in the past begins
	// playback immediately from the corresponding offset.
	Schedule(samples []float32, start time.Duration, done func()) (Source, error)

	// Close stops all scheduled sources and releases the device. Idempotent.
	Close() error
}
