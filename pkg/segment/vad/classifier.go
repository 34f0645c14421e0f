// Package vad implements streaming voice activity detection with built-in
// endpointing: fixed-size windows sliced from incoming audio are classified as
// speech or silence, and a stateful machine decides where utterances begin and
// end. An adaptive threshold tracks the noise floor so the detector keeps
// working when room conditions change.
package vad

import (
	"errors"
	"math"

	"github.com/voxlog/voxlog/pkg/audio"
)

// Classifier estimates the speech probability of a single fixed-size audio
// window. Implementations are stateful per detector and must not be shared
// across detectors.
type Classifier interface {
	// Classify returns the speech probability (0.0–1.0) for one window of
	// float32 mono samples. It must not retain the slice.
	Classify(window []float32) (float32, error)

	// Reset clears any internal smoothing state.
	Reset()
}

// EnergyClassifier scores windows by RMS energy with light exponential
// smoothing. It is the default classifier when no model-backed engine is
// configured.
type EnergyClassifier struct {
	// FullScaleRMS is the RMS level mapped to probability 1.0.
	FullScaleRMS float64

	// Smoothing blends the new score with the previous one (0 disables).
	Smoothing float32

	last    float32
	hasLast bool
}

// Compile-time assertion that EnergyClassifier satisfies Classifier.
var _ Classifier = (*EnergyClassifier)(nil)

// NewEnergyClassifier returns an EnergyClassifier with sane defaults for
// normalised microphone input.
func NewEnergyClassifier() *EnergyClassifier {
	return &EnergyClassifier{
		FullScaleRMS: 0.12,
		Smoothing:    0.1,
	}
}

// Classify maps window RMS onto [0, 1] and applies smoothing.
func (c *EnergyClassifier) Classify(window []float32) (float32, error) {
	if len(window) == 0 {
		return 0, errors.New("vad: empty window")
	}
	full := c.FullScaleRMS
	if full <= 0 {
		full = 0.12
	}
	p := float32(math.Min(audio.RMS(window)/full, 1.0))
	if c.hasLast && c.Smoothing > 0 {
		p = c.Smoothing*p + (1-c.Smoothing)*c.last
	}
	c.last = p
	c.hasLast = true
	return p, nil
}

// Reset clears the smoothing state.
func (c *EnergyClassifier) Reset() {
	c.last = 0
	c.hasLast = false
}
