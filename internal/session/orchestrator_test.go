package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxlog/voxlog/internal/session"
	"github.com/voxlog/voxlog/internal/sink"
	"github.com/voxlog/voxlog/internal/textproc"
	"github.com/voxlog/voxlog/pkg/audio"
	"github.com/voxlog/voxlog/pkg/provider/stt"
	"github.com/voxlog/voxlog/pkg/provider/stt/mock"
	"github.com/voxlog/voxlog/pkg/segment/energy"
	"github.com/voxlog/voxlog/pkg/segment/vad"
)

const rate = 16000

// failingClassifier makes every VAD window classification fail.
type failingClassifier struct{}

func (failingClassifier) Classify(window []float32) (float32, error) {
	return 0, errors.New("model crashed")
}
func (failingClassifier) Reset() {}

// harness bundles one session under test with its channels and sinks.
type harness struct {
	orch    *session.Orchestrator
	backend *mock.Backend
	frames  chan audio.Frame
	errs    chan error
	events  *sink.Events
	logPath string
	closed  atomic.Bool
}

func testSessionConfig() session.Config {
	return session.Config{
		Mode:       stt.ModeLocal,
		SampleRate: rate,
		Energy: energy.Config{
			Threshold:  50,
			MinBuffer:  5 * time.Second,
			Silence:    2 * time.Second,
			SampleRate: rate,
		},
	}
}

func newHarness(t *testing.T, cfg session.Config, backend *mock.Backend, opts ...session.Option) *harness {
	t.Helper()
	h := &harness{
		backend: backend,
		frames:  make(chan audio.Frame, 64),
		errs:    make(chan error, 1),
		events:  sink.NewEvents(256),
		logPath: filepath.Join(t.TempDir(), "log.txt"),
	}
	file, err := sink.NewFileSink(h.logPath, sink.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.orch = session.New(cfg, backend, h.frames, h.errs, func() error {
		h.closed.Store(true)
		return nil
	}, h.events, file, opts...)
	return h
}

// speechFrame returns 100 ms of loud audio, silentFrame 100 ms of silence.
func speechFrame() audio.Frame {
	samples := make([]float32, rate/10)
	for i := range samples {
		samples[i] = 0.5
	}
	return audio.Frame{Samples: samples, SampleRate: rate, Captured: time.Now()}
}

func silentFrame() audio.Frame {
	return audio.Frame{Samples: make([]float32, rate/10), SampleRate: rate, Captured: time.Now()}
}

// run starts the session, invokes feed, then cancels once all queued frames
// are consumed. It returns every event up to Finished and Run's error.
func (h *harness) run(t *testing.T, feed func()) ([]sink.Event, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	feed()
	waitFor(t, func() bool { return len(h.frames) == 0 })
	// Let the in-flight frame finish before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}

	var events []sink.Event
	for {
		select {
		case ev := <-h.events.C():
			events = append(events, ev)
			if ev.Kind == sink.EventFinished {
				return events, runErr
			}
		default:
			t.Fatalf("no finished event; got %v", events)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func countKind(events []sink.Event, kind sink.EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func transcriptions(events []sink.Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == sink.EventTranscription {
			out = append(out, ev.Text)
		}
	}
	return out
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestRun_CancelFlushesBufferedAudioOnce(t *testing.T) {
	backend := mock.New(stt.Ok("hello world"))
	h := newHarness(t, testSessionConfig(), backend)

	events, err := h.run(t, func() {
		// One second of speech, no silence: nothing flushes while streaming,
		// so the segment can only come from the shutdown drain.
		for i := 0; i < 10; i++ {
			h.frames <- speechFrame()
		}
	})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if got := backend.Calls(); got != 1 {
		t.Fatalf("backend calls: got %d, want exactly 1 from the final flush", got)
	}
	if got := len(backend.Requests()[0].Samples); got != rate {
		t.Errorf("flushed samples: got %d, want %d", got, rate)
	}
	if got := countKind(events, sink.EventFinished); got != 1 {
		t.Errorf("finished events: got %d, want exactly 1", got)
	}
	lines := transcriptions(events)
	if len(lines) != 1 || !strings.HasSuffix(lines[0], " - hello world") {
		t.Errorf("transcription events: got %v", lines)
	}
	if !h.closed.Load() {
		t.Error("capture source was not closed during drain")
	}

	data, err := os.ReadFile(h.logPath)
	if err != nil {
		t.Fatalf("read transcript log: %v", err)
	}
	if !strings.Contains(string(data), "hello world") {
		t.Errorf("transcript log: got %q", data)
	}
}

func TestRun_SilenceFlushesWhileStreaming(t *testing.T) {
	backend := mock.New(stt.Ok("mid-stream segment"))
	h := newHarness(t, testSessionConfig(), backend)

	events, err := h.run(t, func() {
		for i := 0; i < 10; i++ {
			h.frames <- speechFrame()
		}
		// Two seconds of silence closes the segment without cancellation.
		for i := 0; i < 20; i++ {
			h.frames <- silentFrame()
		}
	})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if got := backend.Calls(); got != 1 {
		t.Fatalf("backend calls: got %d, want 1", got)
	}
	// Speech plus the closing silence, flushed as one segment.
	if got := len(backend.Requests()[0].Samples); got != 3*rate {
		t.Errorf("flushed samples: got %d, want %d", got, 3*rate)
	}
	if got := len(transcriptions(events)); got != 1 {
		t.Errorf("transcription events: got %d, want 1", got)
	}
}

func TestRun_PostProcessingAppliedBeforeFanout(t *testing.T) {
	backend := mock.New(stt.Ok("VOXLOG is listening (keyboard clatter)"))
	cfg := testSessionConfig()
	cfg.Replacements = textproc.CompileReplacements(map[string]string{`voxlog`: "VoxLog"})
	cfg.FilterParentheses = true
	h := newHarness(t, cfg, backend)

	events, _ := h.run(t, func() {
		for i := 0; i < 10; i++ {
			h.frames <- speechFrame()
		}
	})

	lines := transcriptions(events)
	if len(lines) != 1 {
		t.Fatalf("transcription events: got %v", lines)
	}
	if !strings.HasSuffix(lines[0], " - VoxLog is listening") {
		t.Errorf("post-processing not applied: got %q", lines[0])
	}
}

func TestRun_FailedTranscriptionNeverReachesSinks(t *testing.T) {
	backend := mock.New(stt.Errf(stt.KindAuth, "bad key"))
	h := newHarness(t, testSessionConfig(), backend)

	events, err := h.run(t, func() {
		for i := 0; i < 10; i++ {
			h.frames <- speechFrame()
		}
	})
	if err != nil {
		t.Fatalf("backend failure must not fail the session: %v", err)
	}

	if got := len(transcriptions(events)); got != 0 {
		t.Errorf("transcription events: got %d, want 0", got)
	}
	data, _ := os.ReadFile(h.logPath)
	if len(data) != 0 {
		t.Errorf("transcript log must stay empty, got %q", data)
	}

	// The failure is still visible as a status event carrying the marker.
	sawMarker := false
	for _, ev := range events {
		if ev.Kind == sink.EventStatus && strings.Contains(ev.Text, "[Auth-Error]") {
			sawMarker = true
		}
	}
	if !sawMarker {
		t.Error("expected a status event naming the failure marker")
	}
	if got := countKind(events, sink.EventFinished); got != 1 {
		t.Errorf("finished events: got %d, want 1", got)
	}
}

func TestRun_EmptyTranscriptionSkipped(t *testing.T) {
	backend := mock.New(stt.Ok("   "))
	h := newHarness(t, testSessionConfig(), backend)

	events, _ := h.run(t, func() {
		for i := 0; i < 10; i++ {
			h.frames <- speechFrame()
		}
	})

	if got := len(transcriptions(events)); got != 0 {
		t.Errorf("transcription events for blank text: got %d, want 0", got)
	}
}

// ── Failure paths ─────────────────────────────────────────────────────────────

func TestRun_CaptureErrorEndsSession(t *testing.T) {
	backend := mock.New()
	h := newHarness(t, testSessionConfig(), backend)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	h.errs <- errors.New("device unplugged")

	var runErr error
	select {
	case runErr = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish after capture error")
	}
	if runErr == nil {
		t.Fatal("expected error return, got nil")
	}
	if !strings.Contains(runErr.Error(), "device unplugged") {
		t.Errorf("error: got %v", runErr)
	}
	if !h.closed.Load() {
		t.Error("capture source was not closed")
	}
}

func TestRun_NilBackendAborts(t *testing.T) {
	h := newHarness(t, testSessionConfig(), mock.New())
	file, err := sink.NewFileSink("", sink.FormatText)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	orch := session.New(testSessionConfig(), nil, h.frames, h.errs, func() error { return nil },
		h.events, file)

	if err := orch.Run(context.Background()); err == nil {
		t.Fatal("expected error for nil backend, got nil")
	}

	finished := false
	for len(h.events.C()) > 0 {
		if ev := <-h.events.C(); ev.Kind == sink.EventFinished {
			finished = true
		}
	}
	if !finished {
		t.Error("aborted session must still emit its finished event")
	}
}

// ── VAD path ──────────────────────────────────────────────────────────────────

func vadSessionConfig() session.Config {
	cfg := testSessionConfig()
	cfg.UseVAD = true
	cfg.VAD = vad.Config{
		Threshold:  0.5,
		MinSilence: 500 * time.Millisecond,
		MinSpeech:  200 * time.Millisecond,
		SampleRate: rate,
	}
	return cfg
}

// windowFrame wraps one 512-sample VAD window as a capture frame.
func windowFrame(amplitude float32) audio.Frame {
	samples := make([]float32, 512)
	for i := range samples {
		samples[i] = amplitude
	}
	return audio.Frame{Samples: samples, SampleRate: rate, Captured: time.Now()}
}

func TestRun_VADUtteranceTranscribedOnDrain(t *testing.T) {
	backend := mock.New(stt.Ok("vad segment"))
	h := newHarness(t, vadSessionConfig(), backend,
		session.WithClassifier(vad.NewEnergyClassifier()))

	events, err := h.run(t, func() {
		// Loud windows open an utterance, quiet ones close it once the
		// smoothed probability decays below threshold; the merged audio is
		// short of the assembler's flush rules until the drain.
		for i := 0; i < 20; i++ {
			h.frames <- windowFrame(0.5)
		}
		for i := 0; i < 24; i++ {
			h.frames <- windowFrame(0)
		}
	})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	if got := backend.Calls(); got != 1 {
		t.Fatalf("backend calls: got %d, want 1", got)
	}
	if got := len(transcriptions(events)); got != 1 {
		t.Errorf("transcription events: got %d, want 1", got)
	}
}

func TestRun_VADErrorBudgetFallsBackToEnergyGate(t *testing.T) {
	backend := mock.New(stt.Ok("recovered on the energy path"))
	h := newHarness(t, vadSessionConfig(), backend,
		session.WithClassifier(failingClassifier{}))

	events, err := h.run(t, func() {
		// Five windows exhaust the error budget and trip the fallback.
		for i := 0; i < 5; i++ {
			h.frames <- windowFrame(0.5)
		}
		// Everything after routes through the energy gate.
		for i := 0; i < 10; i++ {
			h.frames <- speechFrame()
		}
	})
	if err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	sawFallback := false
	for _, ev := range events {
		if ev.Kind == sink.EventWarning && strings.Contains(ev.Text, "energy gate") {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("expected a fallback warning event")
	}
	if got := backend.Calls(); got != 1 {
		t.Fatalf("backend calls: got %d, want 1 from the gate's final flush", got)
	}
	if got := len(backend.Requests()[0].Samples); got != rate {
		t.Errorf("flushed samples: got %d, want the energy path audio only", got)
	}
}

func TestRun_VADConstructionFailureFallsBack(t *testing.T) {
	cfg := vadSessionConfig()
	cfg.VAD.SampleRate = 44100
	cfg.SampleRate = rate

	backend := mock.New(stt.Ok("energy gate from the start"))
	h := newHarness(t, cfg, backend)

	events, err := h.run(t, func() {
		for i := 0; i < 10; i++ {
			h.frames <- speechFrame()
		}
	})
	if err != nil {
		t.Fatalf("a vad setup failure must not abort the session: %v", err)
	}

	sawWarning := false
	for _, ev := range events {
		if ev.Kind == sink.EventWarning && strings.Contains(ev.Text, "unavailable") {
			sawWarning = true
		}
	}
	if !sawWarning {
		t.Error("expected a warning about the unavailable detector")
	}
	if got := backend.Calls(); got != 1 {
		t.Errorf("backend calls: got %d, want 1", got)
	}
}

// ── Integration queue ─────────────────────────────────────────────────────────

func TestRun_IntegrationPayloadEnqueued(t *testing.T) {
	backend := mock.New(stt.Ok("send me along"))
	cfg := testSessionConfig()
	cfg.IntegrationPrefix = "mic: "
	queue := sink.NewIntegrationQueue(8)
	h := newHarness(t, cfg, backend, session.WithIntegration(queue))

	if _, err := h.run(t, func() {
		for i := 0; i < 10; i++ {
			h.frames <- speechFrame()
		}
	}); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	select {
	case payload := <-queue.C():
		if payload != `{"source":"stt","text":"mic: send me along"}` {
			t.Errorf("payload: got %s", payload)
		}
	default:
		t.Fatal("no payload enqueued")
	}
}
