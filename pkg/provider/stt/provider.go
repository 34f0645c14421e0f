// Package stt defines the Backend interface over the interchangeable
// transcription engines (on-device whisper.cpp, the OpenAI audio API, and the
// ElevenLabs scribe API) and the Registry that owns one lazily initialised
// client per engine.
//
// Backend failures never surface as Go errors to the pipeline: every call
// returns a Result that is either text or a tagged error. The historical
// bracketed sentinel strings (e.g. "[Auth-Error]") exist only at the
// transcript-log boundary via [Result.Sentinel], where plain text is
// unavoidable.
//
// Backends make exactly one attempt per call. There is no retry or backoff
// at this layer.
package stt

import (
	"context"
	"fmt"
)

// Mode selects a transcription engine.
type Mode string

const (
	// ModeLocal runs whisper.cpp on-device.
	ModeLocal Mode = "local"

	// ModeOpenAI uses the OpenAI audio transcriptions API.
	ModeOpenAI Mode = "openai"

	// ModeElevenLabs uses the ElevenLabs speech-to-text API.
	ModeElevenLabs Mode = "elevenlabs"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeLocal, ModeOpenAI, ModeElevenLabs:
		return true
	}
	return false
}

// Request carries one speech segment to a backend. The samples are owned by
// the request: the segmenter copies its buffer before handing off, so a
// backend may retain or mutate them freely.
type Request struct {
	// Samples is float32 mono PCM.
	Samples []float32

	// SampleRate in Hz.
	SampleRate int

	// Language is an ISO language code hint. Empty means auto-detect.
	Language string

	// Prompt is an optional recognition hint for backends that accept one.
	Prompt string
}

// Backend is one transcription engine. Implementations must be safe to call
// from a single session worker; process-wide sharing is coordinated by the
// [Registry].
type Backend interface {
	// Transcribe performs exactly one transcription attempt and returns the
	// outcome as a Result. It never panics and never returns failures through
	// any other channel.
	Transcribe(ctx context.Context, req Request) Result
}

// ErrKind classifies a backend failure.
type ErrKind int

const (
	// KindAuth covers invalid or expired credentials.
	KindAuth ErrKind = iota

	// KindQuota covers rate-limit and quota exhaustion responses.
	KindQuota

	// KindBadAudio covers malformed or too-short audio rejections.
	KindBadAudio

	// KindAPI covers all other remote API failures.
	KindAPI

	// KindDevice covers on-device inference failures.
	KindDevice

	// KindInit covers use of a backend that is not initialised.
	KindInit
)

// label returns the bracketed sentinel for the kind.
func (k ErrKind) label() string {
	switch k {
	case KindAuth:
		return "[Auth-Error]"
	case KindQuota:
		return "[Quota-Error]"
	case KindBadAudio:
		return "[Bad-Audio-Error]"
	case KindDevice:
		return "[Device-Error]"
	case KindInit:
		return "[Init-Error]"
	default:
		return "[API-Error]"
	}
}

// Error is a classified backend failure.
type Error struct {
	Kind   ErrKind
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.label()
	}
	return fmt.Sprintf("%s %s", e.Kind.label(), e.Detail)
}

// Result is the outcome of one transcription attempt: either text or a
// tagged error, never both.
type Result struct {
	Text string
	Err  *Error
}

// Ok constructs a successful Result.
func Ok(text string) Result { return Result{Text: text} }

// Errf constructs a failed Result with a formatted detail.
func Errf(kind ErrKind, format string, args ...any) Result {
	return Result{Err: &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}}
}

// IsOk reports whether the attempt succeeded.
func (r Result) IsOk() bool { return r.Err == nil }

// Sentinel renders the result for the plain-text transcript boundary: the
// text itself on success, or the bracketed error marker on failure. Callers
// detect failure with [IsSentinel] without knowing backend error types.
func (r Result) Sentinel() string {
	if r.Err != nil {
		return r.Err.Kind.label()
	}
	return r.Text
}

// IsSentinel reports whether s is a bracketed error marker rather than
// transcribed text.
func IsSentinel(s string) bool {
	return len(s) > 0 && s[0] == '['
}
