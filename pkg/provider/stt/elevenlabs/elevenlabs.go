// Package elevenlabs implements the remote transcription backend over the
// ElevenLabs speech-to-text API. ElevenLabs ships no Go SDK, so the client is
// a plain multipart HTTP upload.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxlog/voxlog/pkg/audio"
	"github.com/voxlog/voxlog/pkg/provider/stt"
)

const (
	defaultEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"
	defaultModel    = "scribe_v1"
)

// Compile-time assertion that Backend satisfies stt.Backend.
var _ stt.Backend = (*Backend)(nil)

// Backend uploads WAV-encoded segments to the ElevenLabs scribe endpoint.
type Backend struct {
	apiKey     string
	modelID    string
	endpoint   string
	httpClient *http.Client
}

// Option is a functional option for configuring the Backend.
type Option func(*Backend)

// WithModel sets the ElevenLabs model ID (e.g. "scribe_v1").
func WithModel(modelID string) Option {
	return func(b *Backend) { b.modelID = modelID }
}

// WithEndpoint overrides the API endpoint. Used by tests to point at a local
// server.
func WithEndpoint(url string) Option {
	return func(b *Backend) { b.endpoint = url }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Backend) { b.httpClient.Timeout = d }
}

// New creates a Backend. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey must not be empty")
	}
	b := &Backend{
		apiKey:     apiKey,
		modelID:    defaultModel,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// transcriptionResponse is the expected shape of a scribe response. Extra
// fields are ignored.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe encodes the segment as WAV and issues one multipart convert
// call. An unexpected response shape is stringified rather than treated as a
// failure; real failures are classified by HTTP status.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) stt.Result {
	wavBytes, err := audio.EncodeWAV(req.Samples, req.SampleRate)
	if err != nil {
		return stt.Errf(stt.KindBadAudio, "encode wav: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model_id", b.modelID); err != nil {
		return stt.Errf(stt.KindAPI, "elevenlabs: build request: %v", err)
	}
	if req.Language != "" {
		if err := mw.WriteField("language_code", req.Language); err != nil {
			return stt.Errf(stt.KindAPI, "elevenlabs: build request: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Errf(stt.KindAPI, "elevenlabs: build request: %v", err)
	}
	if _, err := fw.Write(wavBytes); err != nil {
		return stt.Errf(stt.KindAPI, "elevenlabs: build request: %v", err)
	}
	if err := mw.Close(); err != nil {
		return stt.Errf(stt.KindAPI, "elevenlabs: build request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, &body)
	if err != nil {
		return stt.Errf(stt.KindAPI, "elevenlabs: build request: %v", err)
	}
	httpReq.Header.Set("xi-api-key", b.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return stt.Errf(stt.KindAPI, "elevenlabs: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stt.Errf(stt.KindAPI, "elevenlabs: read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, payload)
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.Text != "" {
		return stt.Ok(strings.TrimSpace(parsed.Text))
	}

	// Unexpected response shape: stringify rather than fail.
	slog.Warn("elevenlabs: unexpected response shape, using raw body")
	return stt.Ok(strings.TrimSpace(string(payload)))
}

// classifyStatus maps an HTTP failure status onto the failure taxonomy.
func classifyStatus(status int, payload []byte) stt.Result {
	detail := strings.TrimSpace(string(payload))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return stt.Errf(stt.KindAuth, "elevenlabs: status %d: %s", status, detail)
	case http.StatusTooManyRequests:
		return stt.Errf(stt.KindQuota, "elevenlabs: status %d: %s", status, detail)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return stt.Errf(stt.KindBadAudio, "elevenlabs: status %d: %s", status, detail)
	default:
		return stt.Errf(stt.KindAPI, "elevenlabs: status %d: %s", status, detail)
	}
}
