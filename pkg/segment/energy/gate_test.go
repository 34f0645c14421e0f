package energy_test

import (
	"testing"
	"time"

	"github.com/voxlog/voxlog/pkg/segment/energy"
)

const rate = 16000

func newGate(t *testing.T) *energy.Gate {
	t.Helper()
	g, err := energy.NewGate(energy.Config{
		Threshold:  50,
		MinBuffer:  5 * time.Second,
		Silence:    2 * time.Second,
		SampleRate: rate,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

// frame returns 100 ms of constant-amplitude audio. Amplitude 0 is silence;
// anything well above 0.05 counts as speech against the default threshold.
func frame(amplitude float32) []float32 {
	f := make([]float32, rate/10)
	for i := range f {
		f[i] = amplitude
	}
	return f
}

func TestNewGate_Validation(t *testing.T) {
	if _, err := energy.NewGate(energy.Config{SampleRate: 0, MinBuffer: time.Second, Silence: time.Second}); err == nil {
		t.Error("expected error for zero sample rate, got nil")
	}
	if _, err := energy.NewGate(energy.Config{SampleRate: rate, Threshold: -1, MinBuffer: time.Second, Silence: time.Second}); err == nil {
		t.Error("expected error for negative threshold, got nil")
	}
	if _, err := energy.NewGate(energy.Config{SampleRate: rate, MinBuffer: 0, Silence: time.Second}); err == nil {
		t.Error("expected error for zero min buffer, got nil")
	}
}

func TestGate_SilenceOnlyNeverFlushes(t *testing.T) {
	g := newGate(t)
	now := time.Now()

	// 3.2 s of pure silence: below the buffer minimum, and silence-close
	// never arms without preceding speech.
	for i := 0; i < 32; i++ {
		if _, flushed := g.Feed(frame(0), now.Add(time.Duration(i)*100*time.Millisecond)); flushed {
			t.Fatalf("flush on silent frame %d", i)
		}
	}
	if g.BufferedSamples() == 0 {
		t.Error("silence should still accumulate in the buffer")
	}
}

func TestGate_SilenceAfterSpeechFlushesOnce(t *testing.T) {
	g := newGate(t)
	now := time.Now()
	step := 100 * time.Millisecond

	// 1.0 s of speech.
	for i := 0; i < 10; i++ {
		if _, flushed := g.Feed(frame(0.5), now); flushed {
			t.Fatal("flush during speech")
		}
		now = now.Add(step)
	}

	// 2.0 s of trailing silence closes the segment on the 20th silent frame.
	var segment []float32
	flushes := 0
	for i := 0; i < 25; i++ {
		seg, flushed := g.Feed(frame(0), now)
		now = now.Add(step)
		if flushed {
			flushes++
			segment = seg
			if i != 19 {
				t.Errorf("flush on silent frame %d, want frame 19", i)
			}
		}
	}
	if flushes != 1 {
		t.Fatalf("flushes: got %d, want 1", flushes)
	}

	// The segment holds the speech plus the silence that closed it.
	wantSamples := 30 * rate / 10
	if len(segment) != wantSamples {
		t.Errorf("segment samples: got %d, want %d", len(segment), wantSamples)
	}
	if g.BufferedSamples() != 5*rate/10 {
		t.Errorf("buffered after flush: got %d samples, want the 0.5s of new silence", g.BufferedSamples())
	}
}

func TestGate_BufferCapForcesFlush(t *testing.T) {
	g := newGate(t)
	now := time.Now()

	// Continuous speech never goes silent, so only the buffer cap can fire.
	var flushedAt []int
	var segment []float32
	for i := 0; i < 100; i++ {
		seg, flushed := g.Feed(frame(0.5), now.Add(time.Duration(i)*100*time.Millisecond))
		if flushed {
			flushedAt = append(flushedAt, i)
			segment = seg
		}
	}
	if len(flushedAt) != 2 || flushedAt[0] != 49 || flushedAt[1] != 99 {
		t.Fatalf("flush frames: got %v, want [49 99] at each 5s cap", flushedAt)
	}
	if len(segment) != 5*rate {
		t.Errorf("segment: got %d samples, want %d", len(segment), 5*rate)
	}
}

func TestGate_FragmentFloorSuppressesTinyFlush(t *testing.T) {
	g, err := energy.NewGate(energy.Config{
		Threshold:  50,
		MinBuffer:  5 * time.Second,
		Silence:    200 * time.Millisecond,
		SampleRate: rate,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	now := time.Now()

	// One 100 ms blip then silence: the silence rule fires but the buffer is
	// under the 500 ms fragment floor, so nothing is emitted yet.
	if _, flushed := g.Feed(frame(0.5), now); flushed {
		t.Fatal("flush on the blip itself")
	}
	if _, flushed := g.Feed(frame(0)[:3200], now.Add(100*time.Millisecond)); flushed {
		t.Fatal("flush below the fragment floor")
	}
	if g.BufferedSamples() == 0 {
		t.Error("short fragment should stay buffered")
	}
}

func TestGate_TimeoutCheck(t *testing.T) {
	g := newGate(t)
	now := time.Now()

	// 1.0 s of speech, then the stream stalls.
	for i := 0; i < 10; i++ {
		g.Feed(frame(0.5), now.Add(time.Duration(i)*100*time.Millisecond))
	}
	last := now.Add(900 * time.Millisecond)

	if _, flushed := g.TimeoutCheck(last.Add(time.Second)); flushed {
		t.Fatal("timeout flush before the silence duration elapsed")
	}
	seg, flushed := g.TimeoutCheck(last.Add(2*time.Second + time.Millisecond))
	if !flushed {
		t.Fatal("expected timeout flush after the silence duration")
	}
	if len(seg) != rate {
		t.Errorf("segment: got %d samples, want %d", len(seg), rate)
	}
	if _, flushed := g.TimeoutCheck(last.Add(3 * time.Second)); flushed {
		t.Error("second timeout flush from an empty gate")
	}
}

func TestGate_FinalFlush(t *testing.T) {
	g := newGate(t)
	now := time.Now()

	for i := 0; i < 8; i++ {
		g.Feed(frame(0.5), now.Add(time.Duration(i)*100*time.Millisecond))
	}

	seg, flushed := g.FinalFlush()
	if !flushed {
		t.Fatal("expected final flush of buffered speech")
	}
	if len(seg) != 8*rate/10 {
		t.Errorf("segment: got %d samples, want %d", len(seg), 8*rate/10)
	}
	if _, flushed := g.FinalFlush(); flushed {
		t.Error("final flush must return content at most once")
	}
}

func TestGate_FinalFlushDiscardsFragments(t *testing.T) {
	g := newGate(t)
	g.Feed(frame(0.5)[:1600], time.Now())

	if _, flushed := g.FinalFlush(); flushed {
		t.Error("final flush emitted a sub-fragment buffer")
	}
	if g.BufferedSamples() != 0 {
		t.Error("final flush must clear the buffer either way")
	}
}
