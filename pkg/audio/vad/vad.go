// Package vad implements energy-based voice activity detection for the
// microphone capture pipeline.
//
// The detector computes the RMS energy of each PCM chunk and compares it
// against a fixed threshold. Speech onset fires immediately; speech end is
// debounced by a trailing-silence window so that short dips (breaths,
// word gaps) do not produce spurious end events.
//
// The threshold and silence window are empirical tuning constants, not
// protocol values; override them with [WithThreshold] and [WithSilenceWindow]
// when the defaults do not fit the capture environment.
package vad

import (
	"sync"
	"time"

	"github.com/Damitimo/Google-Reserva/pkg/audio"
)

const (
	// defaultThreshold is the RMS energy above which a chunk counts as
	// speech. Tuned empirically against 16 kHz microphone input.
	defaultThreshold = 0.015

	// defaultSilenceWindow is how long the signal must stay below the
	// threshold before a speech segment is considered ended.
	defaultSilenceWindow = 500 * time.Millisecond
)

// Option is a functional option for configuring a [Detector].
type Option func(*Detector)

// WithThreshold overrides the default RMS speech threshold.
func WithThreshold(t float64) Option {
	return func(d *Detector) { d.threshold = t }
}

// WithSilenceWindow overrides the default trailing-silence debounce window.
// Primarily used in tests to keep suite execution fast.
func WithSilenceWindow(w time.Duration) Option {
	return func(d *Detector) { d.silenceWindow = w }
}

// WithCallbacks registers the speech edge callbacks. onStart fires on the
// silence→speech transition, onEnd after the debounce window elapses with
// no intervening speech. Either may be nil. Callbacks run either on the
// caller's goroutine (onStart, from [Detector.Process]) or on a timer
// goroutine (onEnd); they must not call back into the Detector.
func WithCallbacks(onStart, onEnd func()) Option {
	return func(d *Detector) {
		d.onSpeechStart = onStart
		d.onSpeechEnd = onEnd
	}
}

// Detector is a stateful energy-based voice activity detector for a single
// audio stream. Safe for concurrent use, though chunks are expected to
// arrive from one capture goroutine in order.
type Detector struct {
	threshold     float64
	silenceWindow time.Duration
	onSpeechStart func()
	onSpeechEnd   func()

	mu           sync.Mutex
	speaking     bool
	silenceTimer *time.Timer
}

// New creates a Detector with the default threshold and silence window.
func New(opts ...Option) *Detector {
	d := &Detector{
		threshold:     defaultThreshold,
		silenceWindow: defaultSilenceWindow,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Process classifies one PCM16 chunk and reports whether it is speech.
// Edge events fire according to the transition rules: an onset cancels
// any pending silence timer, and silence while speaking arms the debounce
// timer exactly once.
func (d *Detector) Process(chunk []byte) bool {
	isSpeech := audio.RMS(chunk) > d.threshold

	d.mu.Lock()

	switch {
	case isSpeech && !d.speaking:
		d.speaking = true
		d.stopTimerLocked()
		start := d.onSpeechStart
		d.mu.Unlock()
		if start != nil {
			start()
		}
		return true

	case isSpeech && d.speaking:
		// Speech ripple before the window elapsed: cancel the pending end.
		d.stopTimerLocked()
		d.mu.Unlock()
		return true

	case !isSpeech && d.speaking && d.silenceTimer == nil:
		d.silenceTimer = time.AfterFunc(d.silenceWindow, d.silenceElapsed)
	}

	d.mu.Unlock()
	return isSpeech
}

// Speaking reports whether the detector currently considers the stream to
// be inside a speech segment.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Reset cancels any pending silence timer and clears the speaking state
// without firing callbacks. Used on session teardown so that shutting down
// mid-utterance does not emit a spurious speech-end event.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopTimerLocked()
	d.speaking = false
}

// silenceElapsed runs when the debounce window passes with no speech frame.
func (d *Detector) silenceElapsed() {
	d.mu.Lock()
	if d.silenceTimer == nil || !d.speaking {
		// Reset or an onset raced the timer firing; the segment end was
		// already cancelled.
		d.mu.Unlock()
		return
	}
	d.silenceTimer = nil
	d.speaking = false
	end := d.onSpeechEnd
	d.mu.Unlock()

	if end != nil {
		end()
	}
}

func (d *Detector) stopTimerLocked() {
	if d.silenceTimer != nil {
		d.silenceTimer.Stop()
		d.silenceTimer = nil
	}
}
