// Package segment merges the short utterances produced by the voice activity
// detector into chunks worth sending to a transcription backend. Very short
// detections are discarded as noise, back-to-back utterances are concatenated,
// and a hard cap bounds how much audio a single backend call can receive.
package segment

import (
	"log/slog"
	"time"

	"github.com/voxlog/voxlog/pkg/audio"
)

const (
	// minSegment drops detector output too short to be real speech.
	minSegment = 300 * time.Millisecond

	// hardCap forces a flush regardless of gaps once this much audio is
	// buffered.
	hardCap = 4500 * time.Millisecond

	// softMin is the preferred minimum flush size.
	softMin = 2500 * time.Millisecond

	// continuationGap is the largest pause between utterances still treated
	// as one ongoing thought.
	continuationGap = 1500 * time.Millisecond

	// staleTimeout flushes buffered audio when no new utterance arrives.
	staleTimeout = 2 * time.Second

	// staleMin is the smallest stale buffer worth transcribing; anything
	// shorter is discarded.
	staleMin = 500 * time.Millisecond
)

// Assembler buffers detector utterances until a flush rule fires. Not safe
// for concurrent use; it is owned by the session worker.
type Assembler struct {
	sampleRate int

	segments   [][]float32
	total      int // buffered samples
	lastAppend time.Time

	// now is a clock hook for tests.
	now func() time.Time
}

// NewAssembler returns an empty assembler for audio at the given rate.
func NewAssembler(sampleRate int) *Assembler {
	return &Assembler{
		sampleRate: sampleRate,
		now:        time.Now,
	}
}

// Buffered reports the buffered audio duration.
func (a *Assembler) Buffered() time.Duration {
	return audio.SamplesDuration(a.total, a.sampleRate)
}

// Add offers one detector utterance. Utterances shorter than 300 ms are
// discarded as noise. When a flush rule fires the merged audio is returned
// with true and the buffer is cleared; flushes never overlap and always
// preserve arrival order.
func (a *Assembler) Add(seg []float32) ([]float32, bool) {
	dur := audio.SamplesDuration(len(seg), a.sampleRate)
	if dur < minSegment {
		slog.Debug("discarding short vad segment", "duration", dur)
		return nil, false
	}

	now := a.now()
	gap := now.Sub(a.lastAppend)
	continuation := len(a.segments) > 0 && gap < continuationGap

	a.segments = append(a.segments, seg)
	a.total += len(seg)
	a.lastAppend = now

	switch {
	case a.Buffered() >= hardCap:
		return a.flush("hard cap"), true
	case a.Buffered() >= softMin && !continuation && len(a.segments) >= 2:
		return a.flush("utterance boundary"), true
	}
	return nil, false
}

// TimeoutFlush fires when no utterance has arrived for the stale timeout.
// Buffered audio at least 500 ms long is flushed; shorter leftovers are
// discarded silently.
func (a *Assembler) TimeoutFlush(now time.Time) ([]float32, bool) {
	if len(a.segments) == 0 || now.Sub(a.lastAppend) < staleTimeout {
		return nil, false
	}
	if a.Buffered() < staleMin {
		a.clear()
		return nil, false
	}
	return a.flush("stale timeout"), true
}

// FinalFlush drains the buffer once at session end, under the same minimum
// duration rule as a stale flush.
func (a *Assembler) FinalFlush() ([]float32, bool) {
	if len(a.segments) == 0 {
		return nil, false
	}
	if a.Buffered() < staleMin {
		a.clear()
		return nil, false
	}
	return a.flush("session end"), true
}

// flush concatenates the buffered utterances in arrival order and clears the
// buffer before returning, so a segment can never flush twice.
func (a *Assembler) flush(reason string) []float32 {
	var merged []float32
	for _, s := range a.segments {
		merged = append(merged, s...)
	}
	slog.Debug("assembler flush",
		"reason", reason,
		"segments", len(a.segments),
		"duration", audio.SamplesDuration(len(merged), a.sampleRate))
	a.clear()
	return merged
}

func (a *Assembler) clear() {
	a.segments = nil
	a.total = 0
}
