package sink_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxlog/voxlog/internal/sink"
)

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_PublishNeverBlocks(t *testing.T) {
	e := sink.NewEvents(2)

	// Nobody consumes; publishing past capacity must return immediately.
	for i := 0; i < 10; i++ {
		done := make(chan struct{})
		go func() {
			e.Publish(sink.EventStatus, "msg")
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("publish %d blocked", i)
		}
	}
}

func TestEvents_FinishedNeverDropped(t *testing.T) {
	e := sink.NewEvents(2)
	e.Publish(sink.EventStatus, "one")
	e.Publish(sink.EventStatus, "two")

	// Queue is full; the finished event must evict rather than vanish.
	e.Publish(sink.EventFinished, "")

	sawFinished := false
	for i := 0; i < 2; i++ {
		select {
		case ev := <-e.C():
			if ev.Kind == sink.EventFinished {
				sawFinished = true
			}
		default:
			t.Fatal("queue drained early")
		}
	}
	if !sawFinished {
		t.Error("finished event was dropped")
	}
}

func TestEvents_OrderPreserved(t *testing.T) {
	e := sink.NewEvents(8)
	e.Publish(sink.EventStatus, "a")
	e.Publish(sink.EventTranscription, "b")
	e.Publish(sink.EventFinished, "")

	var kinds []sink.EventKind
	for i := 0; i < 3; i++ {
		kinds = append(kinds, (<-e.C()).Kind)
	}
	want := []sink.EventKind{sink.EventStatus, sink.EventTranscription, sink.EventFinished}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event %d: got %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestEventKind_String(t *testing.T) {
	if got := sink.EventTranscription.String(); got != "transcription" {
		t.Errorf("got %q", got)
	}
	if got := sink.EventKind(99).String(); got != "unknown" {
		t.Errorf("got %q", got)
	}
}

// ── File sink ─────────────────────────────────────────────────────────────────

func TestFileSink_TextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.txt")
	s, err := sink.NewFileSink(path, sink.FormatText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if err := s.Append(ts, "first line"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ts.Add(time.Minute), "second line"); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "2026-03-14 09:26:53 - first line\n2026-03-14 09:27:53 - second line\n"
	if string(data) != want {
		t.Errorf("log contents:\ngot  %q\nwant %q", data, want)
	}
}

func TestFileSink_JSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	s, err := sink.NewFileSink(path, sink.FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	if err := s.Append(ts, "hello"); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var record struct {
		Timestamp string `json:"timestamp"`
		Text      string `json:"text"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("parse record: %v", err)
	}
	if record.Timestamp != "2026-03-14 09:26:53" || record.Text != "hello" {
		t.Errorf("record: got %+v", record)
	}
}

func TestFileSink_EmptyPathIsNoop(t *testing.T) {
	s, err := sink.NewFileSink("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Append(time.Now(), "discarded"); err != nil {
		t.Errorf("disabled sink must not fail: %v", err)
	}
}

func TestNewFileSink_RejectsUnknownFormat(t *testing.T) {
	if _, err := sink.NewFileSink("log.bin", "csv"); err == nil {
		t.Fatal("expected error for unknown format, got nil")
	}
}

// ── Integration queue ─────────────────────────────────────────────────────────

func TestIntegrationQueue_DropsWhenFull(t *testing.T) {
	q := sink.NewIntegrationQueue(2)

	if !q.TryEnqueue("a") || !q.TryEnqueue("b") {
		t.Fatal("enqueue into free capacity failed")
	}
	if q.TryEnqueue("c") {
		t.Error("enqueue into a full queue must be rejected")
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped: got %d, want 1", q.Dropped())
	}

	// Draining makes room again.
	if got := <-q.C(); got != "a" {
		t.Errorf("dequeued %q, want oldest payload", got)
	}
	if !q.TryEnqueue("d") {
		t.Error("enqueue after drain failed")
	}
}

func TestEncodePayload(t *testing.T) {
	payload, err := sink.EncodePayload("mic: ", "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload != `{"source":"stt","text":"mic: hello world"}` {
		t.Errorf("payload: got %s", payload)
	}
}

func TestEncodePayload_NoPrefix(t *testing.T) {
	payload, err := sink.EncodePayload("", "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload != `{"source":"stt","text":"hi"}` {
		t.Errorf("payload: got %s", payload)
	}
}
