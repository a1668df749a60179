package audio_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Damitimo/Google-Reserva/pkg/audio"
)

func TestFloatToPCM16_ClampsOutOfRange(t *testing.T) {
	t.Parallel()

	pcm := audio.FloatToPCM16([]float32{2.0, -2.0})
	got, err := audio.PCM16ToFloat(pcm)
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	if got[0] != 1 {
		t.Errorf("positive overflow clamped to %v, want 1", got[0])
	}
	if got[1] != -1 {
		t.Errorf("negative overflow clamped to %v, want -1", got[1])
	}
}

func TestPCM16RoundTrip_WithinOneLSB(t *testing.T) {
	t.Parallel()

	// Quantised values across the full range, including both extremes and
	// values near the sign boundary.
	in := make([]float32, 0, 1024)
	for i := -512; i < 512; i++ {
		in = append(in, float32(i)/512)
	}

	out, err := audio.PCM16ToFloat(audio.FloatToPCM16(in))
	if err != nil {
		t.Fatalf("PCM16ToFloat: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d want %d", len(out), len(in))
	}

	const lsb = 1.0 / 0x7FFF
	for i := range in {
		if diff := math.Abs(float64(out[i] - in[i])); diff > lsb {
			t.Fatalf("sample %d: %v -> %v, error %v exceeds one LSB", i, in[i], out[i], diff)
		}
	}
}

func TestPCM16ToFloat_OddLength(t *testing.T) {
	t.Parallel()

	_, err := audio.PCM16ToFloat([]byte{0x01, 0x02, 0x03})
	if !errors.Is(err, audio.ErrOddPCMLength) {
		t.Fatalf("got %v, want ErrOddPCMLength", err)
	}
}

func TestBase64RoundTrip(t *testing.T) {
	t.Parallel()

	in := []byte{0x00, 0x7F, 0x80, 0xFF, 0x12}
	out, err := audio.DecodeBase64(audio.EncodeBase64(in))
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("round-trip mismatch: got %v want %v", out, in)
	}
}

func TestDecodeBase64_Malformed(t *testing.T) {
	t.Parallel()

	if _, err := audio.DecodeBase64("not!!base64"); err == nil {
		t.Fatal("expected error for malformed base64")
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		rate  int
		want  time.Duration
	}{
		{"one second at 24kHz", 24000 * 2, 24000, time.Second},
		{"half second at 16kHz", 16000, 16000, 500 * time.Millisecond},
		{"empty", 0, 24000, 0},
		{"zero rate", 4800, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Duration(make([]byte, tt.bytes), tt.rate); got != tt.want {
				t.Errorf("Duration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := audio.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}

	// A full-scale square wave has RMS 1.
	full := audio.FloatToPCM16([]float32{1, 1, -1, -1})
	if got := audio.RMS(full); math.Abs(got-1) > 0.01 {
		t.Errorf("full-scale square wave RMS = %v, want ~1", got)
	}

	// Silence has RMS 0.
	silence := audio.FloatToPCM16(make([]float32, 256))
	if got := audio.RMS(silence); got != 0 {
		t.Errorf("silence RMS = %v, want 0", got)
	}
}
