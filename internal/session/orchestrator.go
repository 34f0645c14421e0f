// Package session runs the recording session: one long-lived worker that
// consumes capture frames, drives the active segmentation path, hands flushed
// segments to the transcription backend, post-processes the text, and fans
// results out to the configured sinks.
//
// A session is single-use. The orchestrator owns all segmentation and output
// state; the only structures it shares with other goroutines are the bounded
// queues at its edges. Cancellation is cooperative: the context is observed
// once per loop iteration, and an in-flight backend call always completes
// before the session starts draining.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/voxlog/voxlog/internal/observe"
	"github.com/voxlog/voxlog/internal/sink"
	"github.com/voxlog/voxlog/internal/textproc"
	"github.com/voxlog/voxlog/pkg/audio"
	"github.com/voxlog/voxlog/pkg/provider/stt"
	"github.com/voxlog/voxlog/pkg/segment"
	"github.com/voxlog/voxlog/pkg/segment/energy"
	"github.com/voxlog/voxlog/pkg/segment/vad"
)

// State is the session lifecycle phase.
type State int

const (
	StateInit State = iota
	StateStreaming
	StateDraining
	StateStopped
	StateError
)

// String returns the phase name for logging.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	// frameWait is the single blocking timeout: how long the loop waits for
	// a frame before running the time-based flush checks.
	frameWait = 100 * time.Millisecond

	// maxVADErrors is the error budget before the session permanently falls
	// back to the energy gate.
	maxVADErrors = 5
)

// Config holds everything a session needs beyond its wired collaborators.
type Config struct {
	// Mode names the backend for status reporting and metrics.
	Mode stt.Mode

	// SampleRate of the capture stream in Hz.
	SampleRate int

	// Language is the recognition hint; empty auto-detects.
	Language string

	// Prompt is an optional backend recognition hint.
	Prompt string

	// UseVAD selects the VAD+assembler path; the energy gate otherwise.
	UseVAD bool

	// VAD parameters, used only when UseVAD is set.
	VAD vad.Config

	// Energy gate parameters; the gate is always constructed since it also
	// serves as the VAD fallback.
	Energy energy.Config

	// Replacements are applied to every transcription before filtering.
	Replacements []textproc.Replacement

	// FilterPatterns drop matching transcript lines.
	FilterPatterns []*regexp.Regexp

	// FilterParentheses strips (…) and […] spans before filtering.
	FilterParentheses bool

	// IntegrationPrefix is prepended to integration payload text.
	IntegrationPrefix string
}

// Orchestrator binds capture, segmentation, transcription, post-processing,
// and output for exactly one session. Create one per session with [New];
// a stopped orchestrator cannot be restarted.
type Orchestrator struct {
	id  string
	cfg Config

	backend      stt.Backend
	frames       <-chan audio.Frame
	captureErrs  <-chan error
	closeCapture func() error

	events      *sink.Events
	file        *sink.FileSink
	integration *sink.IntegrationQueue
	metrics     *observe.Metrics

	// classifier overrides the default VAD classifier when non-nil.
	classifier vad.Classifier

	// segmentation state, owned exclusively by Run's goroutine
	state     State
	usingVAD  bool
	detector  *vad.Detector
	assembler *segment.Assembler
	gate      *energy.Gate
	vadErrors int
	seq       int
	runErr    error

	// now is a clock hook for tests.
	now func() time.Time
}

// Option is a functional option for New.
type Option func(*Orchestrator)

// WithIntegration wires the bounded remote-integration queue.
func WithIntegration(q *sink.IntegrationQueue) Option {
	return func(o *Orchestrator) { o.integration = q }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the wall clock. Tests use this to drive time-based
// flush rules deterministically.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithClassifier overrides the voice activity classifier used on the VAD
// path. Tests inject deterministic classifiers through this.
func WithClassifier(c vad.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// New assembles an orchestrator around an initialised backend and an open
// capture stream. closeCapture is invoked exactly once during draining.
func New(
	cfg Config,
	backend stt.Backend,
	frames <-chan audio.Frame,
	captureErrs <-chan error,
	closeCapture func() error,
	events *sink.Events,
	file *sink.FileSink,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		id:           uuid.NewString(),
		cfg:          cfg,
		backend:      backend,
		frames:       frames,
		captureErrs:  captureErrs,
		closeCapture: closeCapture,
		events:       events,
		file:         file,
		metrics:      observe.DefaultMetrics(),
		state:        StateInit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle phase. Meaningful to read only after
// Run has returned; during Run it belongs to the worker goroutine.
func (o *Orchestrator) State() State { return o.state }

// Run executes the session to completion. It always emits a final status
// event followed by exactly one Finished event, and returns the fatal error
// when the session ended abnormally.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		o.events.Publish(sink.EventFinished, "")
	}()

	if err := o.init(); err != nil {
		o.state = StateStopped
		o.events.Publish(sink.EventError, err.Error())
		o.events.Publish(sink.EventStatus, "session aborted")
		return err
	}

	o.state = StateStreaming
	o.events.Publish(sink.EventStatus, fmt.Sprintf("recording (%s)", o.cfg.Mode))
	slog.Info("session streaming", "session", o.id, "mode", o.cfg.Mode, "vad", o.usingVAD)

	cancelled := o.stream(ctx)
	o.drain(ctx, cancelled)

	if o.runErr != nil {
		o.state = StateStopped
		o.events.Publish(sink.EventStatus, "recording stopped after error")
		return o.runErr
	}
	o.state = StateStopped
	o.events.Publish(sink.EventStatus, "recording finished")
	return nil
}

// init validates collaborators and constructs the segmentation path. A VAD
// construction failure is not fatal: the session permanently falls back to
// the energy gate.
func (o *Orchestrator) init() error {
	if o.backend == nil {
		return errors.New("session: backend not initialised")
	}

	gate, err := energy.NewGate(o.cfg.Energy)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	o.gate = gate

	if o.cfg.UseVAD {
		detector, err := vad.NewDetector(o.cfg.VAD, o.classifier)
		if err != nil {
			slog.Warn("vad unavailable, using energy gate for this session", "error", err)
			o.events.Publish(sink.EventWarning, "voice detection unavailable, using energy gate")
		} else {
			o.detector = detector
			o.assembler = segment.NewAssembler(o.cfg.SampleRate)
			o.usingVAD = true
		}
	}
	return nil
}

// stream is the main loop. It returns true when it exited due to
// cancellation rather than a capture failure or closed frame channel.
func (o *Orchestrator) stream(ctx context.Context) bool {
	ticker := time.NewTicker(frameWait)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cancellation observed", "session", o.id)
			return true

		case err := <-o.captureErrs:
			o.state = StateError
			o.runErr = fmt.Errorf("session: capture failed: %w", err)
			o.events.Publish(sink.EventError, o.runErr.Error())
			slog.Error("capture failed, draining", "session", o.id, "error", err)
			return false

		case frame, ok := <-o.frames:
			if !ok {
				o.state = StateError
				o.runErr = errors.New("session: capture stream ended unexpectedly")
				o.events.Publish(sink.EventError, o.runErr.Error())
				return false
			}
			o.metrics.CountFrame(ctx)
			o.handleFrame(ctx, frame)

		case <-ticker.C:
			// No new audio: run the time-based flush checks so a stalled
			// utterance is not stuck waiting for more frames.
			o.handleIdle(ctx)
		}
	}
}

// handleFrame routes one frame through the active segmentation path.
func (o *Orchestrator) handleFrame(ctx context.Context, frame audio.Frame) {
	if !o.usingVAD {
		if seg, ok := o.gate.Feed(frame.Samples, o.now()); ok {
			o.process(ctx, seg)
		}
		return
	}

	status, utterance := o.detector.ProcessChunk(frame.Samples)
	switch status {
	case vad.StatusError:
		o.metrics.CountVADError(ctx)
		o.vadErrors++
		if o.vadErrors >= maxVADErrors {
			o.fallBackToGate(ctx)
		}
	case vad.StatusSpeechEnded:
		if merged, ok := o.assembler.Add(utterance); ok {
			o.process(ctx, merged)
		}
	}
}

// handleIdle runs the flush rules that depend on wall-clock time alone.
func (o *Orchestrator) handleIdle(ctx context.Context) {
	if o.usingVAD {
		if merged, ok := o.assembler.TimeoutFlush(o.now()); ok {
			o.process(ctx, merged)
		}
		return
	}
	if seg, ok := o.gate.TimeoutCheck(o.now()); ok {
		o.process(ctx, seg)
	}
}

// fallBackToGate permanently switches the session to the energy gate after
// the VAD error budget is exhausted. Assembler content worth transcribing is
// flushed so it is not lost; the detector's partial state is discarded.
func (o *Orchestrator) fallBackToGate(ctx context.Context) {
	slog.Warn("vad error budget exhausted, falling back to energy gate",
		"session", o.id, "errors", o.vadErrors)
	o.events.Publish(sink.EventWarning, "voice detection failing, switched to energy gate")
	o.metrics.CountVADFallback(ctx)

	if merged, ok := o.assembler.FinalFlush(); ok {
		o.process(ctx, merged)
	}
	o.detector.Reset()
	o.usingVAD = false
}

// drain finishes the session: flush remaining buffered audio exactly once,
// close the capture stream, and discard whatever frames are still queued.
func (o *Orchestrator) drain(ctx context.Context, cancelled bool) {
	o.state = StateDraining
	slog.Info("session draining", "session", o.id, "cancelled", cancelled)

	if o.usingVAD {
		if merged, ok := o.assembler.FinalFlush(); ok {
			o.process(ctx, merged)
		}
	} else if seg, ok := o.gate.FinalFlush(); ok {
		o.process(ctx, seg)
	}

	if err := o.closeCapture(); err != nil {
		slog.Error("closing capture failed", "session", o.id, "error", err)
	}
	if n := audio.DrainPending(o.frames); n > 0 {
		slog.Debug("discarded queued frames", "session", o.id, "count", n)
	}
}

// process transcribes one flushed segment and fans the result out. Backend
// failures surface as status events; the segment is simply dropped.
func (o *Orchestrator) process(ctx context.Context, samples []float32) {
	o.seq++
	seq := o.seq
	segSeconds := audio.SamplesDuration(len(samples), o.cfg.SampleRate).Seconds()
	o.events.Publish(sink.EventStatus, fmt.Sprintf("processing segment %d (%s)", seq, o.cfg.Mode))
	slog.Info("transcribing segment",
		"session", o.id, "segment", seq, "seconds", fmt.Sprintf("%.2f", segSeconds))

	start := o.now()
	result := o.backend.Transcribe(ctx, stt.Request{
		Samples:    samples,
		SampleRate: o.cfg.SampleRate,
		Language:   o.cfg.Language,
		Prompt:     o.cfg.Prompt,
	})
	latency := o.now().Sub(start).Seconds()

	status := "ok"
	if !result.IsOk() {
		status = "error"
	}
	o.metrics.RecordTranscription(ctx, string(o.cfg.Mode), status, latency, segSeconds)

	if !result.IsOk() {
		slog.Error("transcription failed",
			"session", o.id, "segment", seq, "error", result.Err)
		o.events.Publish(sink.EventStatus, fmt.Sprintf("segment %d failed: %s", seq, result.Sentinel()))
		return
	}

	text := textproc.ApplyReplacements(result.Text, o.cfg.Replacements)
	text = textproc.Filter(text, o.cfg.FilterPatterns, o.cfg.FilterParentheses)
	if text == "" || stt.IsSentinel(text) {
		slog.Debug("segment produced no publishable text", "session", o.id, "segment", seq)
		return
	}

	o.fanOut(ctx, text)
	o.events.Publish(sink.EventStatus, fmt.Sprintf("segment %d done", seq))
}

// fanOut delivers one accepted transcript to the display, file, and
// integration sinks. Sink failures are reported but never fatal.
func (o *Orchestrator) fanOut(ctx context.Context, text string) {
	ts := o.now()
	o.events.Publish(sink.EventTranscription,
		fmt.Sprintf("%s - %s", ts.Format("2006-01-02 15:04:05"), text))

	if err := o.file.Append(ts, text); err != nil {
		slog.Error("transcript file write failed", "session", o.id, "error", err)
		o.events.Publish(sink.EventError, fmt.Sprintf("file write failed: %v", err))
	}

	if o.integration != nil {
		payload, err := sink.EncodePayload(o.cfg.IntegrationPrefix, text)
		if err != nil {
			slog.Error("integration payload encoding failed", "session", o.id, "error", err)
			return
		}
		if !o.integration.TryEnqueue(payload) {
			o.metrics.CountQueueDrop(ctx, "integration")
			o.events.Publish(sink.EventWarning, "integration queue full")
		}
	}
}
