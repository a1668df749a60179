// Package mock provides in-memory mock implementations of the [device.Input]
// and [device.Output] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// The [Output] mock carries a manual clock: tests advance it with
// [Output.Advance] and complete scheduled buffers with [Output.Finish], which
// makes timing-sensitive playback logic fully deterministic.
package mock

import (
	"sync"
	"time"

	"github.com/Damitimo/Google-Reserva/pkg/audio/device"
)

// ─── Input ────────────────────────────────────────────────────────────────────

// Input is a mock implementation of [device.Input].
// Set the exported Error fields before use; inspect the Call* fields after.
type Input struct {
	mu sync.Mutex

	// StartError is returned by [Input.Start].
	StartError error

	// StopError is returned by [Input.Stop].
	StopError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// RecordedOnFrame holds the callbacks registered via Start, in order of
	// registration. To simulate captured audio in tests, call [Input.Emit].
	RecordedOnFrame []func(samples []float32)
}

// Start implements [device.Input]. Records the callback and returns StartError.
func (in *Input) Start(onFrame func(samples []float32)) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CallCountStart++
	if in.StartError != nil {
		return in.StartError
	}
	in.RecordedOnFrame = append(in.RecordedOnFrame, onFrame)
	return nil
}

// Stop implements [device.Input]. Returns StopError.
func (in *Input) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.CallCountStop++
	return in.StopError
}

// Emit calls all registered frame callbacks with the given samples.
// Use this in tests to simulate a capture frame arriving from the hardware.
func (in *Input) Emit(samples []float32) {
	in.mu.Lock()
	cbs := make([]func([]float32), len(in.RecordedOnFrame))
	copy(cbs, in.RecordedOnFrame)
	in.mu.Unlock()
	for _, cb := range cbs {
		cb(samples)
	}
}

// ─── Output ───────────────────────────────────────────────────────────────────

// ScheduleCall records the arguments of a single [Output.Schedule] invocation.
type ScheduleCall struct {
	// Samples is the buffer passed to Schedule.
	Samples []float32
	// Start is the device-clock start time passed to Schedule.
	Start time.Duration
	// Source is the [device.Source] returned to the caller.
	Source *Source
}

// Output is a mock implementation of [device.Output] with a manual clock.
type Output struct {
	mu sync.Mutex

	// ScheduleError is returned by [Output.Schedule].
	ScheduleError error

	// CloseError is returned by [Output.Close].
	CloseError error

	// ScheduleCalls records all Schedule invocations.
	ScheduleCalls []ScheduleCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now time.Duration
}

// Now implements [device.Output]. Returns the manual clock set via [Output.Advance].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [device.Output]. Records the call and returns a [Source]
// whose done callback fires when the test calls [Output.Finish] or [Source.Stop].
func (o *Output) Schedule(samples []float32, start time.Duration, done func()) (device.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return nil, o.ScheduleError
	}
	src := &Source{done: done}
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{Samples: samples, Start: start, Source: src})
	return src, nil
}

// Close implements [device.Output]. Returns CloseError.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseError
}

// Advance moves the manual device clock forward by d.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// Finish completes the i-th scheduled buffer, firing its done callback as the
// hardware would on natural end of playback.
func (o *Output) Finish(i int) {
	o.mu.Lock()
	src := o.ScheduleCalls[i].Source
	o.mu.Unlock()
	src.finish()
}

// Source is the [device.Source] returned by [Output.Schedule].
type Source struct {
	mu sync.Mutex

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	done     func()
	finished bool
}

// Stop implements [device.Source]. Fires the done callback at most once.
func (s *Source) Stop() {
	s.mu.Lock()
	s.CallCountStop++
	s.mu.Unlock()
	s.finish()
}

func (s *Source) finish() {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	done := s.done
	s.mu.Unlock()
	if done != nil {
		done()
	}
}
