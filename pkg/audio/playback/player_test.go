package playback_test

import (
	"testing"
	"time"

	"github.com/Damitimo/Google-Reserva/pkg/audio"
	"github.com/Damitimo/Google-Reserva/pkg/audio/device/mock"
	"github.com/Damitimo/Google-Reserva/pkg/audio/playback"
)

// chunk returns n samples of silence as PCM16 bytes.
func chunk(n int) []byte {
	return audio.FloatToPCM16(make([]float32, n))
}

// newTestPlayer builds a player with a manual clock and no background ticker,
// so every scheduling decision is driven by the test.
func newTestPlayer(out *mock.Output, opts ...playback.Option) *playback.Player {
	base := []playback.Option{
		playback.WithSampleRate(1000), // 1 sample = 1 ms
		playback.WithGuardBand(50 * time.Millisecond),
		playback.WithTickInterval(time.Hour),
	}
	return playback.New(out, append(base, opts...)...)
}

func TestEnqueueSchedulesBackToBack(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	p := newTestPlayer(out)

	p.Enqueue(chunk(100)) // 100 ms
	p.Enqueue(chunk(40))  // 40 ms
	p.Enqueue(chunk(60))  // 60 ms

	if len(out.ScheduleCalls) != 3 {
		t.Fatalf("scheduled %d chunks, want 3", len(out.ScheduleCalls))
	}
	wantStarts := []time.Duration{0, 100 * time.Millisecond, 140 * time.Millisecond}
	for i, want := range wantStarts {
		if got := out.ScheduleCalls[i].Start; got != want {
			t.Errorf("chunk %d start = %v, want %v", i, got, want)
		}
	}
}

func TestEpisodeCallbacksFireExactlyOnce(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	var starts, ends int
	p := newTestPlayer(out, playback.WithCallbacks(
		func() { starts++ },
		func() { ends++ },
	))

	p.Enqueue(chunk(100))
	p.Enqueue(chunk(100))
	if starts != 1 {
		t.Fatalf("onStart fired %d times after enqueue, want 1", starts)
	}
	if ends != 0 {
		t.Fatalf("onEnd fired %d times while sources in flight, want 0", ends)
	}
	if !p.Playing() {
		t.Fatal("Playing() = false during episode")
	}

	out.Finish(0)
	if ends != 0 {
		t.Fatalf("onEnd fired %d times with one source remaining, want 0", ends)
	}
	out.Finish(1)
	if ends != 1 {
		t.Fatalf("onEnd fired %d times after drain, want 1", ends)
	}
	if p.Playing() {
		t.Error("Playing() = true after episode ended")
	}
	if starts != 1 {
		t.Errorf("onStart fired %d times total, want 1", starts)
	}
}

func TestLagResetsToGuardBand(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	underrun := make(chan time.Duration, 1)
	p := newTestPlayer(out, playback.WithUnderrunFunc(func(lag time.Duration) {
		underrun <- lag
	}))

	p.Enqueue(chunk(100)) // plays 0..100ms

	// The device clock outruns the queue: next chunk must resume ahead of
	// now, never overlap what already played.
	out.Advance(300 * time.Millisecond)
	p.Enqueue(chunk(100))

	if len(out.ScheduleCalls) != 2 {
		t.Fatalf("scheduled %d chunks, want 2", len(out.ScheduleCalls))
	}
	want := 350 * time.Millisecond // now + guard band
	if got := out.ScheduleCalls[1].Start; got != want {
		t.Errorf("late chunk start = %v, want %v", got, want)
	}

	select {
	case lag := <-underrun:
		if lag != 200*time.Millisecond {
			t.Errorf("underrun lag = %v, want 200ms", lag)
		}
	case <-time.After(2 * time.Second):
		t.Error("underrun callback never fired")
	}
}

func TestInterruptStopsSourcesAndEndsEpisode(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	var starts, ends int
	p := newTestPlayer(out, playback.WithCallbacks(
		func() { starts++ },
		func() { ends++ },
	))

	p.Enqueue(chunk(100))
	p.Enqueue(chunk(100))
	p.Interrupt()

	for i, call := range out.ScheduleCalls {
		if call.Source.CallCountStop != 1 {
			t.Errorf("source %d stopped %d times, want 1", i, call.Source.CallCountStop)
		}
	}
	if ends != 1 {
		t.Fatalf("onEnd fired %d times after interrupt, want 1", ends)
	}
	if p.Playing() {
		t.Fatal("Playing() = true after interrupt")
	}

	// Interrupting while idle is a no-op.
	p.Interrupt()
	if ends != 1 {
		t.Fatalf("idle interrupt fired onEnd, total %d", ends)
	}

	// A fresh episode starts cleanly after an interrupt.
	out.Advance(777 * time.Millisecond)
	p.Enqueue(chunk(50))
	if starts != 2 {
		t.Errorf("onStart fired %d times total, want 2", starts)
	}
	got := out.ScheduleCalls[len(out.ScheduleCalls)-1].Start
	if got < 777*time.Millisecond {
		t.Errorf("post-interrupt chunk start = %v, overlaps played audio", got)
	}
}

func TestMalformedChunkIsDropped(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	var starts int
	p := newTestPlayer(out, playback.WithCallbacks(func() { starts++ }, nil))

	p.Enqueue([]byte{0x01, 0x02, 0x03}) // odd length
	p.Enqueue(nil)

	if len(out.ScheduleCalls) != 0 {
		t.Fatalf("scheduled %d chunks from malformed input, want 0", len(out.ScheduleCalls))
	}
	if starts != 0 {
		t.Errorf("onStart fired %d times, want 0", starts)
	}

	// The queue keeps working afterwards.
	p.Enqueue(chunk(10))
	if len(out.ScheduleCalls) != 1 {
		t.Errorf("scheduled %d chunks after recovery, want 1", len(out.ScheduleCalls))
	}
}

func TestDisposeReleasesDeviceOnce(t *testing.T) {
	t.Parallel()

	out := &mock.Output{}
	var ends int
	p := newTestPlayer(out, playback.WithCallbacks(nil, func() { ends++ }))

	p.Enqueue(chunk(100))
	if err := p.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := p.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}

	if out.CallCountClose != 1 {
		t.Errorf("device Close called %d times, want 1", out.CallCountClose)
	}
	if ends != 1 {
		t.Errorf("onEnd fired %d times, want 1", ends)
	}

	// Enqueue after dispose is ignored.
	p.Enqueue(chunk(10))
	if len(out.ScheduleCalls) != 1 {
		t.Errorf("scheduled %d chunks total, want 1", len(out.ScheduleCalls))
	}
}
