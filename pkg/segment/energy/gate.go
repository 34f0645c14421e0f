// Package energy implements the legacy RMS-energy segmenter: audio
// accumulates in a single buffer and a wall-clock silence timer decides when
// the buffer becomes a transcription segment. It has no notion of utterance
// boundaries beyond loudness, which is why the neural detector is preferred,
// but it has no model to fail and serves as the permanent fallback path.
package energy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/voxlog/voxlog/pkg/audio"
)

// fragmentFloor is the minimum buffered audio worth transcribing when a
// flush is triggered by silence. Shorter buffers are kept until more speech
// arrives or the session ends.
const fragmentFloor = 500 * time.Millisecond

// Config holds the gate parameters.
type Config struct {
	// Threshold is the energy threshold in the tool's historical 0–1000
	// scale; frame RMS is compared against Threshold/1000.
	Threshold float64

	// MinBuffer forces a flush once this much audio has accumulated,
	// silence or not.
	MinBuffer time.Duration

	// Silence is how long the signal must stay below the threshold before
	// the buffer is flushed.
	Silence time.Duration

	// SampleRate in Hz.
	SampleRate int
}

// Gate is the RMS segmenter. Not safe for concurrent use; it is owned by the
// session worker.
type Gate struct {
	threshold        float64
	minBufferSamples int
	silenceSamples   int
	silence          time.Duration
	sampleRate       int
	fragmentSamples  int

	buffer            []float32
	silentRun         int
	nonSilent         bool
	lastSound         time.Time
}

// NewGate validates cfg and returns a ready gate.
func NewGate(cfg Config) (*Gate, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("energy: threshold must not be negative, got %v", cfg.Threshold)
	}
	if cfg.MinBuffer <= 0 || cfg.Silence <= 0 {
		return nil, fmt.Errorf("energy: min buffer and silence durations must be positive")
	}
	return &Gate{
		threshold:        cfg.Threshold / 1000.0,
		minBufferSamples: audio.DurationSamples(cfg.MinBuffer, cfg.SampleRate),
		silenceSamples:   audio.DurationSamples(cfg.Silence, cfg.SampleRate),
		silence:          cfg.Silence,
		sampleRate:       cfg.SampleRate,
		fragmentSamples:  audio.DurationSamples(fragmentFloor, cfg.SampleRate),
		lastSound:        time.Now(),
	}, nil
}

// BufferedSamples reports how much audio the gate currently holds.
func (g *Gate) BufferedSamples() int { return len(g.buffer) }

// Feed appends one captured frame and evaluates the flush rules. When the
// second return value is true, the first holds the segment to transcribe and
// the gate's buffer has been cleared.
//
// Silence-close is evaluated before the buffer-length trigger, so a frame
// that satisfies both rules flushes exactly once, attributed to silence.
func (g *Gate) Feed(frame []float32, now time.Time) ([]float32, bool) {
	g.buffer = append(g.buffer, frame...)

	shouldFlush := false
	if audio.RMS(frame) > g.threshold {
		g.lastSound = now
		g.silentRun = 0
		if !g.nonSilent {
			slog.Debug("speech detected")
			g.nonSilent = true
		}
	} else if g.nonSilent {
		g.silentRun += len(frame)
		if g.silentRun >= g.silenceSamples {
			slog.Debug("silence threshold reached", "silence", g.silence)
			g.nonSilent = false
			shouldFlush = true
		}
	}

	if !shouldFlush {
		shouldFlush = len(g.buffer) >= g.minBufferSamples
	}
	// Never flush a near-empty buffer on silence alone.
	if !g.nonSilent && len(g.buffer) < g.fragmentSamples {
		shouldFlush = false
	}

	if !shouldFlush || len(g.buffer) == 0 {
		return nil, false
	}
	return g.take(), true
}

// TimeoutCheck runs the time-based flush rule for a capture read timeout: no
// frame arrived, but the wall clock may still have crossed the silence
// duration. It flushes only when enough audio is buffered to be worth
// transcribing.
func (g *Gate) TimeoutCheck(now time.Time) ([]float32, bool) {
	if !g.nonSilent || now.Sub(g.lastSound) <= g.silence {
		return nil, false
	}
	slog.Debug("silence threshold reached while idle", "silence", g.silence)
	g.nonSilent = false
	if len(g.buffer) <= g.fragmentSamples {
		return nil, false
	}
	return g.take(), true
}

// FinalFlush hands out whatever buffered audio remains at session end,
// subject to the same fragment floor. It returns at most once with content;
// the buffer is always cleared.
func (g *Gate) FinalFlush() ([]float32, bool) {
	defer func() { g.buffer = nil; g.silentRun = 0; g.nonSilent = false }()
	if len(g.buffer) < g.fragmentSamples {
		return nil, false
	}
	return g.take(), true
}

// take copies out the buffer and resets accumulation state. The returned
// slice is owned by the caller; the gate's buffer is reset so a segment can
// never flush twice.
func (g *Gate) take() []float32 {
	out := make([]float32, len(g.buffer))
	copy(out, g.buffer)
	g.buffer = g.buffer[:0]
	g.silentRun = 0
	return out
}
