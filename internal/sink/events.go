// Package sink fans finished transcriptions out to their consumers: the
// status/result event queue a host UI reads, the append-only transcript file,
// and the bounded queue feeding the remote-integration transport. No sink may
// ever block or fail the session that feeds it.
package sink

import "log/slog"

// EventKind tags an outbound event.
type EventKind int

const (
	// EventStatus is a human-readable progress message.
	EventStatus EventKind = iota

	// EventError reports a failure; fatal ones precede EventFinished.
	EventError

	// EventWarning reports a recoverable problem.
	EventWarning

	// EventTranscription carries one finished transcript line.
	EventTranscription

	// EventFinished is the terminal event; exactly one per session.
	EventFinished
)

// String returns the tag name for logging.
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	case EventWarning:
		return "warning"
	case EventTranscription:
		return "transcription"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Event is one outbound message to the host UI.
type Event struct {
	Kind EventKind
	Text string
}

// Events is a bounded, non-blocking event queue. The producing session drops
// events (with a warning) when the consumer falls behind; it never stalls on
// a slow or absent UI.
type Events struct {
	ch chan Event
}

// NewEvents creates an event queue with the given capacity (minimum 1).
func NewEvents(capacity int) *Events {
	if capacity < 1 {
		capacity = 1
	}
	return &Events{ch: make(chan Event, capacity)}
}

// C returns the receive side for the consumer.
func (e *Events) C() <-chan Event { return e.ch }

// Publish enqueues an event without blocking, dropping it when the queue is
// full. Finished events are never dropped: the oldest queued event is evicted
// instead, so the terminal event always arrives.
func (e *Events) Publish(kind EventKind, text string) {
	ev := Event{Kind: kind, Text: text}
	select {
	case e.ch <- ev:
		return
	default:
	}
	if kind != EventFinished {
		slog.Warn("event queue full, dropping event", "kind", kind.String())
		return
	}
	for {
		select {
		case e.ch <- ev:
			return
		case <-e.ch:
		}
	}
}
