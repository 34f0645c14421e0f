package vad

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/voxlog/voxlog/pkg/audio"
)

// Status is the outcome of one ProcessChunk call.
type Status int

const (
	// StatusProcessing means no complete utterance closed during the call.
	StatusProcessing Status = iota

	// StatusSpeechEnded means an utterance closed; the returned segment holds it.
	StatusSpeechEnded

	// StatusError means at least one window could not be classified during the
	// call. The failed windows were skipped and never buffered; later calls
	// proceed normally. Callers decide when repeated errors warrant a
	// different segmentation path.
	StatusError
)

const (
	// minSegmentDuration drops utterances too short to transcribe usefully.
	minSegmentDuration = 200 * time.Millisecond

	// thresholdUpdateInterval rate-limits adaptive threshold adjustments.
	thresholdUpdateInterval = 2 * time.Second

	// energyHistorySize bounds the rolling per-window RMS history.
	energyHistorySize = 100

	// snrHistorySize bounds the rolling SNR history.
	snrHistorySize = 10

	thresholdCeiling = 0.7
	thresholdFloor   = 0.3
)

// Config holds the construction parameters for a Detector.
type Config struct {
	// Threshold is the initial speech probability threshold (0.0–1.0).
	Threshold float32

	// MinSilence is how long non-speech must persist to close an utterance.
	MinSilence time.Duration

	// MinSpeech is how long speech must persist to open an utterance.
	MinSpeech time.Duration

	// SampleRate must be 8000 or 16000.
	SampleRate int

	// AdaptiveThreshold enables SNR-driven threshold adjustment.
	AdaptiveThreshold bool

	// Padding enables silence padding around emitted segments.
	Padding bool

	// PaddingDuration is the silence added before and after a segment when
	// Padding is set. Zero means 200 ms.
	PaddingDuration time.Duration

	// Debug enables verbose per-decision logging.
	Debug bool
}

// Detector slices incoming audio into classifier windows and runs the
// endpointing state machine. Not safe for concurrent use: a detector belongs
// to exactly one session worker.
type Detector struct {
	classifier Classifier

	threshold        float32
	initialThreshold float32
	sampleRate       int
	windowSize       int
	minSilenceFrames int
	minSpeechFrames  int
	adaptive         bool
	padding          bool
	paddingSamples   int
	debug            bool

	// endpointing state
	triggered     bool
	speechFrames  int
	silenceFrames int
	segment       [][]float32
	pending       []float32

	// adaptive threshold state
	noiseFloor      float64
	hasNoiseFloor   bool
	energyHistory   []float64
	snrHistory      []float64
	lastThresholdAt time.Time

	// now is a clock hook for tests.
	now func() time.Time
}

// NewDetector validates cfg, builds the window geometry, and returns a ready
// detector. classifier may be nil, in which case an [EnergyClassifier] is
// used.
func NewDetector(cfg Config, classifier Classifier) (*Detector, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("vad: threshold must be in [0, 1], got %v", cfg.Threshold)
	}

	var windowSize int
	switch cfg.SampleRate {
	case 16000:
		windowSize = 512
	case 8000:
		windowSize = 256
	default:
		return nil, fmt.Errorf("vad: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}

	if classifier == nil {
		classifier = NewEnergyClassifier()
	}

	windowMs := float64(windowSize) / float64(cfg.SampleRate) * 1000
	padDur := cfg.PaddingDuration
	if padDur <= 0 {
		padDur = 200 * time.Millisecond
	}

	d := &Detector{
		classifier:       classifier,
		threshold:        cfg.Threshold,
		initialThreshold: cfg.Threshold,
		sampleRate:       cfg.SampleRate,
		windowSize:       windowSize,
		minSilenceFrames: framesFor(cfg.MinSilence, windowMs),
		minSpeechFrames:  framesFor(cfg.MinSpeech, windowMs),
		adaptive:         cfg.AdaptiveThreshold,
		padding:          cfg.Padding,
		paddingSamples:   audio.DurationSamples(padDur, cfg.SampleRate),
		debug:            cfg.Debug,
		now:              time.Now,
	}
	d.lastThresholdAt = d.now()

	if d.debug {
		slog.Debug("vad detector created",
			"sample_rate", d.sampleRate,
			"window_samples", d.windowSize,
			"threshold", d.threshold,
			"min_silence_frames", d.minSilenceFrames,
			"min_speech_frames", d.minSpeechFrames)
	}
	return d, nil
}

// framesFor converts a minimum duration to a window count, rounding up.
func framesFor(d time.Duration, windowMs float64) int {
	if d <= 0 || windowMs <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d.Milliseconds()) / windowMs))
}

// Threshold returns the current (possibly adapted) speech threshold.
func (d *Detector) Threshold() float32 { return d.threshold }

// BufferedSamples reports how many samples the detector currently holds: the
// partial window awaiting more audio plus any open utterance accumulation.
func (d *Detector) BufferedSamples() int {
	n := len(d.pending)
	for _, w := range d.segment {
		n += len(w)
	}
	return n
}

// Reset fully clears counters, the open utterance, and the partial-window
// buffer. Calling Reset twice is the same as calling it once.
func (d *Detector) Reset() {
	d.triggered = false
	d.speechFrames = 0
	d.silenceFrames = 0
	d.segment = nil
	d.pending = nil
	d.classifier.Reset()
}

// ProcessChunk feeds samples through the detector. Complete windows are
// classified immediately; any leftover partial window is kept for the next
// call, so no audio is lost or classified twice. At most one utterance closes
// per call; audio remaining after a close stays buffered until the next call.
func (d *Detector) ProcessChunk(samples []float32) (Status, []float32) {
	d.pending = append(d.pending, samples...)

	status := StatusProcessing
	errored := false

	for len(d.pending) >= d.windowSize {
		window := d.pending[:d.windowSize:d.windowSize]
		d.pending = d.pending[d.windowSize:]

		d.updateThreshold(window)

		prob, err := d.classifier.Classify(window)
		if err != nil {
			// Skip this window only. It is never added to any buffer.
			slog.Error("vad window classification failed", "error", err)
			errored = true
			continue
		}

		if seg := d.step(window, prob); seg != nil {
			return StatusSpeechEnded, seg
		}
	}

	if errored {
		status = StatusError
	}
	return status, nil
}

// step advances the endpointing machine by one classified window and returns
// a finished utterance when one closes.
func (d *Detector) step(window []float32, prob float32) []float32 {
	if prob >= d.threshold {
		d.silenceFrames = 0
		if !d.triggered {
			d.speechFrames++
			if d.speechFrames >= d.minSpeechFrames {
				if d.debug {
					slog.Debug("speech started", "probability", prob, "threshold", d.threshold)
				}
				d.triggered = true
				d.segment = [][]float32{window}
			}
		} else {
			d.segment = append(d.segment, window)
		}
		return nil
	}

	d.speechFrames = 0
	if !d.triggered {
		d.silenceFrames++
		return nil
	}

	d.silenceFrames++
	// Keep a few trailing silence windows so soft utterance tails survive.
	if d.silenceFrames <= min(3, d.minSilenceFrames/2) {
		d.segment = append(d.segment, window)
	}
	if d.silenceFrames < d.minSilenceFrames {
		return nil
	}

	var raw []float32
	for _, w := range d.segment {
		raw = append(raw, w...)
	}
	if audio.SamplesDuration(len(raw), d.sampleRate) < minSegmentDuration {
		if d.debug {
			slog.Debug("segment too short, dropping", "samples", len(raw))
		}
		d.resetEndpointState()
		return nil
	}
	d.resetEndpointState()
	return d.pad(raw)
}

// resetEndpointState clears the utterance accumulation but keeps the
// partial-window buffer and adaptive state.
func (d *Detector) resetEndpointState() {
	d.triggered = false
	d.speechFrames = 0
	d.silenceFrames = 0
	d.segment = nil
}

// pad surrounds the segment with silence when padding is enabled.
func (d *Detector) pad(segment []float32) []float32 {
	if !d.padding || d.paddingSamples <= 0 {
		return segment
	}
	padded := make([]float32, 0, len(segment)+2*d.paddingSamples)
	padded = append(padded, make([]float32, d.paddingSamples)...)
	padded = append(padded, segment...)
	padded = append(padded, make([]float32, d.paddingSamples)...)
	return padded
}

// updateThreshold drifts the speech threshold with the measured
// signal-to-noise ratio. The noise floor is estimated from the 20th
// percentile of recent window energies, sampled only while the current window
// is at or below that floor. Adjustment stays inactive until the energy
// history has warmed up past ten samples.
func (d *Detector) updateThreshold(window []float32) {
	if !d.adaptive {
		return
	}

	rms := audio.RMS(window)
	d.energyHistory = append(d.energyHistory, rms)
	if len(d.energyHistory) > energyHistorySize {
		d.energyHistory = d.energyHistory[1:]
	}

	if d.now().Sub(d.lastThresholdAt) < thresholdUpdateInterval {
		return
	}
	if len(d.energyHistory) <= 10 {
		return
	}

	sorted := slices.Clone(d.energyHistory)
	slices.Sort(sorted)
	floorEstimate := sorted[len(sorted)/5]
	if rms <= floorEstimate {
		if !d.hasNoiseFloor {
			d.noiseFloor = rms
			d.hasNoiseFloor = true
		} else {
			d.noiseFloor = 0.95*d.noiseFloor + 0.05*rms
		}
	}

	if !d.hasNoiseFloor || d.noiseFloor <= 0 || rms <= 0 {
		return
	}

	snr := 20 * math.Log10(math.Max(rms, 1e-7)/math.Max(d.noiseFloor, 1e-7))
	d.snrHistory = append(d.snrHistory, snr)
	if len(d.snrHistory) > snrHistorySize {
		d.snrHistory = d.snrHistory[1:]
	}
	if len(d.snrHistory) < 3 {
		return
	}

	var sum float64
	for _, v := range d.snrHistory {
		sum += v
	}
	avgSNR := sum / float64(len(d.snrHistory))

	old := d.threshold
	switch {
	case avgSNR > 15:
		// Clear voice: tighten to reject noise.
		d.threshold = float32(math.Min(thresholdCeiling, float64(d.threshold)+0.02))
	case avgSNR < 5:
		// Noisy room: loosen to keep catching speech.
		d.threshold = float32(math.Max(thresholdFloor, float64(d.threshold)-0.02))
	default:
		// Moderate conditions: relax back toward the configured value.
		if d.threshold < d.initialThreshold {
			d.threshold = float32(math.Min(float64(d.initialThreshold), float64(d.threshold)+0.01))
		} else if d.threshold > d.initialThreshold {
			d.threshold = float32(math.Max(float64(d.initialThreshold), float64(d.threshold)-0.01))
		}
	}

	if d.debug && math.Abs(float64(old-d.threshold)) > 0.01 {
		slog.Debug("vad threshold adjusted", "old", old, "new", d.threshold, "avg_snr", avgSNR)
	}
	d.lastThresholdAt = d.now()
}
