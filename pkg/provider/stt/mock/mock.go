// Package mock provides a scriptable stt.Backend for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxlog/voxlog/pkg/provider/stt"
)

// Compile-time assertion that Backend satisfies stt.Backend.
var _ stt.Backend = (*Backend)(nil)

// Backend returns scripted results in order and records every request it
// receives. When the script is exhausted it keeps returning the last result,
// or Ok("") if no results were scripted. Safe for concurrent use.
type Backend struct {
	mu       sync.Mutex
	results  []stt.Result
	requests []stt.Request
}

// New creates a Backend that replies with the given results in order.
func New(results ...stt.Result) *Backend {
	return &Backend{results: results}
}

// Transcribe records the request and returns the next scripted result.
func (b *Backend) Transcribe(_ context.Context, req stt.Request) stt.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)

	switch {
	case len(b.results) == 0:
		return stt.Ok("")
	case len(b.results) == 1:
		return b.results[0]
	default:
		r := b.results[0]
		b.results = b.results[1:]
		return r
	}
}

// Requests returns a copy of every request seen so far.
func (b *Backend) Requests() []stt.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]stt.Request, len(b.requests))
	copy(out, b.requests)
	return out
}

// Calls reports how many Transcribe calls were made.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}
