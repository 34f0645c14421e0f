// Package whisper implements the on-device transcription backend using the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a) and
// headers (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The model is loaded once per model path and shared for the lifetime of the
// backend; each Transcribe call creates its own whisper context, which is the
// binding's unit of isolation.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voxlog/voxlog/pkg/provider/stt"
)

// Compile-time assertion that Backend satisfies stt.Backend.
var _ stt.Backend = (*Backend)(nil)

// Backend runs whisper.cpp inference on segments produced by the pipeline.
type Backend struct {
	model     whisperlib.Model
	modelPath string
	language  string
}

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithLanguage sets the default language code for transcription (e.g. "en",
// "de"). An empty value lets whisper auto-detect.
func WithLanguage(lang string) Option {
	return func(b *Backend) { b.language = lang }
}

// New loads the whisper.cpp model from modelPath. The caller must call Close
// when the backend is no longer needed.
func New(modelPath string, opts ...Option) (*Backend, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	b := &Backend{
		model:     model,
		modelPath: modelPath,
	}
	for _, o := range opts {
		o(b)
	}
	slog.Info("whisper model loaded", "path", modelPath)
	return b, nil
}

// ModelPath returns the path of the loaded model.
func (b *Backend) ModelPath() string { return b.modelPath }

// Close releases the whisper model.
func (b *Backend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}

// Transcribe runs one inference pass over the segment. All failures are
// converted to tagged results; this method never returns through any other
// channel.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) stt.Result {
	if b.model == nil {
		return stt.Errf(stt.KindInit, "whisper model not loaded")
	}
	if err := ctx.Err(); err != nil {
		return stt.Errf(stt.KindDevice, "context cancelled: %v", err)
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return stt.Errf(stt.KindDevice, "create context: %v", err)
	}

	lang := req.Language
	if lang == "" {
		lang = b.language
	}
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "error", err)
	}

	if err := wctx.Process(req.Samples, nil, nil, nil); err != nil {
		return stt.Errf(stt.KindDevice, "process audio: %v", err)
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Errf(stt.KindDevice, "read segment: %v", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return stt.Ok(strings.Join(parts, " "))
}
