package sink

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// IntegrationQueue is the bounded hand-off between the session worker and
// the remote-integration transport worker. The producer never blocks: when
// the transport falls behind, payloads are dropped with a warning.
type IntegrationQueue struct {
	ch      chan string
	dropped atomic.Uint64
}

// NewIntegrationQueue creates a queue with the given capacity (minimum 1).
func NewIntegrationQueue(capacity int) *IntegrationQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &IntegrationQueue{ch: make(chan string, capacity)}
}

// C returns the receive side for the transport worker.
func (q *IntegrationQueue) C() <-chan string { return q.ch }

// TryEnqueue offers a payload without blocking. It reports whether the
// payload was accepted; a rejected payload is counted and logged.
func (q *IntegrationQueue) TryEnqueue(payload string) bool {
	select {
	case q.ch <- payload:
		return true
	default:
		q.dropped.Add(1)
		slog.Warn("integration queue full, dropping payload")
		return false
	}
}

// Dropped reports how many payloads were rejected so far.
func (q *IntegrationQueue) Dropped() uint64 { return q.dropped.Load() }

// integrationPayload is the JSON message shape the remote integration
// expects.
type integrationPayload struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// EncodePayload renders the integration message for one transcript, with the
// configured prefix prepended.
func EncodePayload(prefix, text string) (string, error) {
	data, err := json.Marshal(integrationPayload{Source: "stt", Text: prefix + text})
	if err != nil {
		return "", fmt.Errorf("sink: encode integration payload: %w", err)
	}
	return string(data), nil
}
