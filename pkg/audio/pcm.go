// Package audio provides the PCM sample formats and pure conversion
// functions shared by the capture, playback, and protocol layers of the
// Reserva voice pipeline.
//
// All audio in the pipeline is interleaved mono 16-bit little-endian PCM:
// microphone input at [InputSampleRate], synthesised output at
// [OutputSampleRate]. The float side of each conversion uses the range
// [-1, 1]. Chunks are immutable by convention: they are created by one
// producer and handed to exactly one consumer, never mutated afterwards.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// InputSampleRate is the microphone capture rate in Hz.
	InputSampleRate = 16000

	// OutputSampleRate is the synthesised playback rate in Hz.
	OutputSampleRate = 24000

	// BytesPerSample is the width of one 16-bit PCM sample.
	BytesPerSample = 2
)

// ErrOddPCMLength is returned when a byte buffer cannot be interpreted as
// 16-bit PCM because its length is not a multiple of two.
var ErrOddPCMLength = errors.New("audio: PCM buffer has odd byte length")

// FloatToPCM16 converts float samples in [-1, 1] to 16-bit little-endian
// PCM. Samples outside the range are clamped. Positive values scale by
// 0x7FFF and negative values by 0x8000, rounded to nearest; the asymmetric
// scale matches the inverse in [PCM16ToFloat] so that a quantised value
// round-trips within one LSB.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(math.Round(float64(s) * 0x8000))
		} else {
			v = int16(math.Round(float64(s) * 0x7FFF))
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// PCM16ToFloat converts 16-bit little-endian PCM to float samples in
// [-1, 1], dividing by 0x8000 for negative values and 0x7FFF otherwise.
// Returns [ErrOddPCMLength] if the buffer is misaligned.
func PCM16ToFloat(pcm []byte) ([]float32, error) {
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddPCMLength, len(pcm))
	}
	out := make([]float32, len(pcm)/BytesPerSample)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out, nil
}

// EncodeBase64 encodes raw PCM bytes for transport inside a JSON-framed
// protocol message.
func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeBase64 decodes a base64 payload received from the protocol layer.
func DecodeBase64(data string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return out, nil
}

// Duration reports the playback duration of a 16-bit mono PCM buffer at
// the given sample rate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// RMS computes the root-mean-square energy of a 16-bit mono PCM buffer,
// normalised to [0, 1]. Misaligned buffers are truncated to the last whole
// sample; an empty buffer reports zero.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / BytesPerSample
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		n := float64(v) / 0x7FFF
		sum += n * n
	}
	return math.Sqrt(sum / float64(samples))
}
