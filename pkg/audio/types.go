// Package audio provides the shared audio primitives for the voxlog pipeline:
// the Frame type flowing from capture to segmentation, PCM conversion helpers,
// RMS energy computation, and in-memory WAV encoding for remote backends.
package audio

import "time"

// Frame is a fixed-duration block of mono PCM audio as delivered by the
// capture callback. Samples are float32 normalised to [-1.0, 1.0]. Frames are
// ephemeral: each one is consumed by exactly one segmentation path and then
// discarded.
type Frame struct {
	// Samples is the raw mono audio. The capture source copies the driver
	// buffer before enqueueing, so a Frame never aliases driver memory.
	Samples []float32

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Captured marks the wall-clock time the frame left the driver callback.
	Captured time.Time
}

// Duration returns the play time of the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration converts a sample count at the given rate to a duration.
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// DurationSamples converts a duration to a sample count at the given rate,
// rounding up so that minimum-duration checks are never undershot.
func DurationSamples(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	samples := d * time.Duration(sampleRate)
	n := int(samples / time.Second)
	if samples%time.Second != 0 {
		n++
	}
	return n
}
