//go:build !portaudio

package device

// Stub constructors for builds without the portaudio tag. Headless builds
// (CI, servers without sound hardware) get a clear device-unavailable
// error instead of a cgo link failure; tests use the mock subpackage.

// NewInput reports that no capture backend was compiled in.
func NewInput(sampleRate, frameSize int) (Input, error) {
	return nil, ErrUnavailable
}

// NewOutput reports that no playback backend was compiled in.
func NewOutput(sampleRate int) (Output, error) {
	return nil, ErrUnavailable
}
