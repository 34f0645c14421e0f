// Package openai implements the remote transcription backend over the OpenAI
// audio transcriptions API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxlog/voxlog/pkg/audio"
	"github.com/voxlog/voxlog/pkg/provider/stt"
)

const defaultModel = "whisper-1"

// Compile-time assertion that Backend satisfies stt.Backend.
var _ stt.Backend = (*Backend)(nil)

// Backend uploads WAV-encoded segments to the OpenAI audio API.
type Backend struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the backend.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Used by tests to
// point at a local server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Backend. apiKey must be non-empty; model defaults to
// whisper-1 when empty.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	// One attempt per segment; the pipeline drops failures instead of
	// retrying stale audio.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Backend{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Transcribe encodes the segment as 16-bit WAV and issues one transcription
// call. API failures are classified into tagged results by HTTP status; this
// method never returns through any other channel.
func (b *Backend) Transcribe(ctx context.Context, req stt.Request) stt.Result {
	wavBytes, err := audio.EncodeWAV(req.Samples, req.SampleRate)
	if err != nil {
		return stt.Errf(stt.KindBadAudio, "encode wav: %v", err)
	}

	params := oai.AudioTranscriptionNewParams{
		Model:       oai.AudioModel(b.model),
		File:        oai.File(bytes.NewReader(wavBytes), "audio.wav", "audio/wav"),
		Temperature: oai.Float(0),
	}
	if req.Language != "" {
		params.Language = oai.String(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}

	resp, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return classify(err)
	}
	return stt.Ok(strings.TrimSpace(resp.Text))
}

// classify maps an API error onto the pipeline's failure taxonomy.
func classify(err error) stt.Result {
	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return stt.Errf(stt.KindAuth, "openai: %v", apierr.Message)
		case http.StatusTooManyRequests:
			return stt.Errf(stt.KindQuota, "openai: %v", apierr.Message)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return stt.Errf(stt.KindBadAudio, "openai: %v", apierr.Message)
		default:
			return stt.Errf(stt.KindAPI, "openai: status %d: %v", apierr.StatusCode, apierr.Message)
		}
	}
	return stt.Errf(stt.KindAPI, "openai: %v", err)
}
