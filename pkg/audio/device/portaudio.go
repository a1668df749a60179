//go:build portaudio

package device

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Compile-time interface checks.
var (
	_ Input  = (*paInput)(nil)
	_ Output = (*paOutput)(nil)
)

// paInput captures mono float32 windows from the default input device.
type paInput struct {
	sampleRate int
	frameSize  int

	mu      sync.Mutex
	stream  *portaudio.Stream
	onFrame func([]float32)
}

// NewInput opens the default capture device at sampleRate Hz delivering
// windows of frameSize samples. The stream is created lazily in Start.
func NewInput(sampleRate, frameSize int) (Input, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize: %v", ErrUnavailable, err)
	}
	return &paInput{sampleRate: sampleRate, frameSize: frameSize}, nil
}

func (in *paInput) Start(onFrame func(samples []float32)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stream != nil {
		return fmt.Errorf("device: input already started")
	}
	in.onFrame = onFrame

	stream, err := portaudio.OpenDefaultStream(
		1, 0, float64(in.sampleRate), in.frameSize,
		func(buf []float32) {
			// PortAudio reuses buf between callbacks; consumers that keep
			// samples must copy, per the Input contract.
			in.onFrame(buf)
		},
	)
	if err != nil {
		return fmt.Errorf("%w: open capture stream: %v", ErrUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: start capture: %v", ErrUnavailable, err)
	}
	in.stream = stream
	slog.Debug("capture device opened", "rate", in.sampleRate, "frame_size", in.frameSize)
	return nil
}

func (in *paInput) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stream == nil {
		return nil
	}
	_ = in.stream.Stop()
	_ = in.stream.Close()
	in.stream = nil
	_ = portaudio.Terminate()
	return nil
}

// paOutput renders scheduled sources through a pull callback stream. The
// device clock is the count of samples rendered since Open, which tracks
// the hardware clock exactly and never jumps.
type paOutput struct {
	sampleRate int

	mu      sync.Mutex
	stream  *portaudio.Stream
	pos     int64 // samples rendered so far
	sources []*paSource
	closed  bool
}

type paSource struct {
	out         *paOutput
	samples     []float32
	startSample int64
	offset      int // samples already rendered
	done        func()
	finished    bool
}

// NewOutput opens the default playback device at sampleRate Hz.
func NewOutput(sampleRate int) (Output, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialize: %v", ErrUnavailable, err)
	}
	out := &paOutput{sampleRate: sampleRate}
	stream, err := portaudio.OpenDefaultStream(
		0, 1, float64(sampleRate), 0, out.render,
	)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open playback stream: %v", ErrUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start playback: %v", ErrUnavailable, err)
	}
	out.stream = stream
	return out, nil
}

func (o *paOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.samplesToDuration(o.pos)
}

func (o *paOutput) Schedule(samples []float32, start time.Duration, done func()) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, fmt.Errorf("device: output closed")
	}
	src := &paSource{
		out:         o,
		samples:     samples,
		startSample: o.durationToSamples(start),
		done:        done,
	}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *paOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	pending := o.sources
	o.sources = nil
	stream := o.stream
	o.stream = nil
	o.mu.Unlock()

	for _, src := range pending {
		src.finish()
	}
	if stream != nil {
		_ = stream.Stop()
		_ = stream.Close()
	}
	_ = portaudio.Terminate()
	return nil
}

// render is the PortAudio pull callback. It zero-fills the output window
// and copies in the overlapping region of every active source.
func (o *paOutput) render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	o.mu.Lock()
	windowStart := o.pos
	windowEnd := o.pos + int64(len(out))
	var finished []*paSource
	active := o.sources[:0]

	for _, src := range o.sources {
		begin := src.startSample + int64(src.offset)
		if begin < windowStart {
			// Scheduled in the past: skip the portion that already elapsed.
			src.offset += int(windowStart - begin)
			begin = windowStart
		}
		if begin < windowEnd && src.offset < len(src.samples) {
			dst := int(begin - windowStart)
			n := copy(out[dst:], src.samples[src.offset:])
			src.offset += n
		}
		if src.offset >= len(src.samples) {
			finished = append(finished, src)
		} else {
			active = append(active, src)
		}
	}
	o.sources = active
	o.pos = windowEnd
	o.mu.Unlock()

	for _, src := range finished {
		src.finish()
	}
}

func (o *paOutput) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(o.sampleRate)
}

func (o *paOutput) durationToSamples(d time.Duration) int64 {
	return int64(d) * int64(o.sampleRate) / int64(time.Second)
}

func (s *paSource) Stop() {
	s.out.mu.Lock()
	for i, src := range s.out.sources {
		if src == s {
			s.out.sources = append(s.out.sources[:i], s.out.sources[i+1:]...)
			break
		}
	}
	s.out.mu.Unlock()
	s.finish()
}

// finish invokes the done callback exactly once.
func (s *paSource) finish() {
	s.out.mu.Lock()
	if s.finished {
		s.out.mu.Unlock()
		return
	}
	s.finished = true
	done := s.done
	s.out.mu.Unlock()
	if done != nil {
		done()
	}
}
