// Package playback schedules PCM16 audio for gapless output.
//
// A [Player] keeps a queue of decoded chunks and schedules them back to back
// on the device clock of a [device.Output]. The next chunk always starts
// exactly where the previous one ends, so consecutive chunks of one model
// turn play without audible seams. When scheduling falls behind the device
// clock the player resumes a guard band ahead of now instead of overlapping
// already played audio.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Damitimo/Google-Reserva/pkg/audio"
	"github.com/Damitimo/Google-Reserva/pkg/audio/device"
)

const (
	// DefaultGuardBand is how far ahead of the device clock scheduling
	// resumes after the queue ran dry mid-episode.
	DefaultGuardBand = 50 * time.Millisecond

	// DefaultTickInterval is how often a scheduling pass runs while chunks
	// or sources are outstanding.
	DefaultTickInterval = 50 * time.Millisecond
)

// Player plays queued PCM16 chunks gaplessly on a [device.Output].
// Create one with [New]; the zero value is not usable.
type Player struct {
	out device.Output
	log *slog.Logger

	sampleRate   int
	guardBand    time.Duration
	tickInterval time.Duration

	onStart    func()
	onEnd      func()
	onUnderrun func(lag time.Duration)

	mu           sync.Mutex
	queue        [][]float32
	inflight     map[*inflightEntry]device.Source
	nextPlayTime time.Duration
	playing      bool
	disposed     bool
	tickStop     chan struct{}
}

type inflightEntry struct{}

// Option configures a [Player].
type Option func(*Player)

// WithLogger sets the logger used for playback diagnostics.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(p *Player) { p.log = log }
}

// WithSampleRate sets the playback sample rate.
// Defaults to [audio.OutputSampleRate].
func WithSampleRate(rate int) Option {
	return func(p *Player) { p.sampleRate = rate }
}

// WithGuardBand sets the resume margin used when scheduling fell behind the
// device clock. Defaults to [DefaultGuardBand].
func WithGuardBand(d time.Duration) Option {
	return func(p *Player) { p.guardBand = d }
}

// WithTickInterval sets the interval between periodic scheduling passes.
// Defaults to [DefaultTickInterval].
func WithTickInterval(d time.Duration) Option {
	return func(p *Player) { p.tickInterval = d }
}

// WithCallbacks registers episode callbacks. onStart fires once when playback
// goes from idle to playing; onEnd fires once when a continuous episode ends,
// whether it drained naturally or was interrupted. Either may be nil.
// Callbacks run outside the player's lock but must still return promptly.
func WithCallbacks(onStart, onEnd func()) Option {
	return func(p *Player) {
		p.onStart = onStart
		p.onEnd = onEnd
	}
}

// WithUnderrunFunc registers a callback fired whenever scheduling fell behind
// the device clock mid-episode, with the observed lag.
func WithUnderrunFunc(fn func(lag time.Duration)) Option {
	return func(p *Player) { p.onUnderrun = fn }
}

// New creates a Player over the given output device.
func New(out device.Output, opts ...Option) *Player {
	p := &Player{
		out:          out,
		log:          slog.Default(),
		sampleRate:   audio.OutputSampleRate,
		guardBand:    DefaultGuardBand,
		tickInterval: DefaultTickInterval,
		inflight:     map[*inflightEntry]device.Source{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue queues a PCM16 chunk and runs a scheduling pass. A chunk that does
// not decode as PCM16 is logged and dropped; the queue keeps going.
// Safe for concurrent use.
func (p *Player) Enqueue(pcm []byte) {
	samples, err := audio.PCM16ToFloat(pcm)
	if err != nil {
		p.log.Warn("playback: dropping malformed chunk", "error", err, "bytes", len(pcm))
		return
	}
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.queue = append(p.queue, samples)
	p.startTickerLocked()
	p.mu.Unlock()
	p.pass()
}

// Playing reports whether a playback episode is in progress.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Interrupt stops every scheduled source, clears the queue and, if an episode
// was in progress, fires the end callback. Safe to call at any time,
// including while idle; repeated calls are no-ops.
func (p *Player) Interrupt() {
	p.stop()
}

// Dispose interrupts playback and releases the output device.
// The player is unusable afterwards. Idempotent.
func (p *Player) Dispose() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	p.mu.Unlock()
	p.stop()
	if err := p.out.Close(); err != nil {
		return fmt.Errorf("playback: dispose: %w", err)
	}
	return nil
}

func (p *Player) stop() {
	p.mu.Lock()
	p.queue = nil
	sources := make([]device.Source, 0, len(p.inflight))
	for entry, src := range p.inflight {
		sources = append(sources, src)
		delete(p.inflight, entry)
	}
	wasPlaying := p.playing
	p.playing = false
	p.nextPlayTime = 0
	p.stopTickerLocked()
	p.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	if wasPlaying && p.onEnd != nil {
		p.onEnd()
	}
}

// pass schedules every queued chunk and settles episode state.
// Must be called without p.mu held.
func (p *Player) pass() {
	var fireStart, fireEnd bool

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	for len(p.queue) > 0 {
		samples := p.queue[0]
		p.queue = p.queue[1:]

		now := p.out.Now()
		if p.nextPlayTime < now {
			if p.playing {
				lag := now - p.nextPlayTime
				p.log.Debug("playback fell behind device clock", "lag", lag)
				if p.onUnderrun != nil {
					go p.onUnderrun(lag)
				}
			}
			p.nextPlayTime = now + p.guardBand
		}

		entry := &inflightEntry{}
		src, err := p.out.Schedule(samples, p.nextPlayTime, func() { p.sourceDone(entry) })
		if err != nil {
			p.log.Warn("playback: dropping chunk, schedule failed", "error", err)
			continue
		}
		p.inflight[entry] = src
		if !p.playing {
			p.playing = true
			fireStart = true
		}
		p.nextPlayTime += time.Duration(len(samples)) * time.Second / time.Duration(p.sampleRate)
	}
	if p.playing && len(p.inflight) == 0 {
		p.playing = false
		fireEnd = true
		p.stopTickerLocked()
	}
	p.mu.Unlock()

	if fireStart && p.onStart != nil {
		p.onStart()
	}
	if fireEnd && p.onEnd != nil {
		p.onEnd()
	}
}

func (p *Player) sourceDone(entry *inflightEntry) {
	p.mu.Lock()
	_, tracked := p.inflight[entry]
	if tracked {
		delete(p.inflight, entry)
	}
	p.mu.Unlock()
	// Sources removed by Interrupt or Dispose already settled the episode.
	if tracked {
		p.pass()
	}
}

// startTickerLocked starts the periodic pass goroutine if one is not running.
// Caller holds p.mu.
func (p *Player) startTickerLocked() {
	if p.tickStop != nil {
		return
	}
	stop := make(chan struct{})
	p.tickStop = stop
	go func() {
		ticker := time.NewTicker(p.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.pass()
			}
		}
	}()
}

// stopTickerLocked stops the periodic pass goroutine. Caller holds p.mu.
func (p *Player) stopTickerLocked() {
	if p.tickStop == nil {
		return
	}
	close(p.tickStop)
	p.tickStop = nil
}
