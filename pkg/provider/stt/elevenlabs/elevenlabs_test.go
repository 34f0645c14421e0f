package elevenlabs_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxlog/voxlog/pkg/provider/stt"
	"github.com/voxlog/voxlog/pkg/provider/stt/elevenlabs"
)

func newBackend(t *testing.T, handler http.HandlerFunc) *elevenlabs.Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := elevenlabs.New("el-test", elevenlabs.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return b
}

func segment() stt.Request {
	return stt.Request{Samples: make([]float32, 16000), SampleRate: 16000}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := elevenlabs.New(""); err == nil {
		t.Fatal("expected error for empty api key, got nil")
	}
}

func TestTranscribe_Success(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("xi-api-key"); got != "el-test" {
			t.Errorf("api key header: got %q, want el-test", got)
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model_id"); got != "scribe_v1" {
			t.Errorf("model_id field: got %q, want scribe_v1", got)
		}
		if got := r.FormValue("language_code"); got != "de" {
			t.Errorf("language_code field: got %q, want de", got)
		}
		if _, header, err := r.FormFile("file"); err != nil {
			t.Errorf("file field: %v", err)
		} else if header.Filename != "audio.wav" {
			t.Errorf("filename: got %q, want audio.wav", header.Filename)
		}
		fmt.Fprint(w, `{"language_code":"de","text":" guten morgen "}`)
	})

	req := segment()
	req.Language = "de"
	result := b.Transcribe(context.Background(), req)
	if !result.IsOk() {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if result.Text != "guten morgen" {
		t.Errorf("text: got %q, want trimmed transcript", result.Text)
	}
}

func TestTranscribe_UnexpectedShapeStringified(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"transcript":"different field name"}`)
	})

	result := b.Transcribe(context.Background(), segment())
	if !result.IsOk() {
		t.Fatalf("unexpected shape must not fail: %v", result.Err)
	}
	if result.Text != `{"transcript":"different field name"}` {
		t.Errorf("text: got %q, want the raw body", result.Text)
	}
}

func TestTranscribe_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   stt.ErrKind
	}{
		{"unauthorised", http.StatusUnauthorized, stt.KindAuth},
		{"rate limited", http.StatusTooManyRequests, stt.KindQuota},
		{"unprocessable", http.StatusUnprocessableEntity, stt.KindBadAudio},
		{"server error", http.StatusBadGateway, stt.KindAPI},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"detail":"nope"}`)
			})

			result := b.Transcribe(context.Background(), segment())
			if result.IsOk() {
				t.Fatal("expected failure, got success")
			}
			if result.Err.Kind != tc.want {
				t.Errorf("kind: got %v (%s), want %v", result.Err.Kind, result.Sentinel(), tc.want)
			}
		})
	}
}

func TestTranscribe_UnreachableEndpoint(t *testing.T) {
	b, err := elevenlabs.New("el-test", elevenlabs.WithEndpoint("http://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := b.Transcribe(context.Background(), segment())
	if result.IsOk() {
		t.Fatal("expected failure for unreachable endpoint")
	}
	if result.Err.Kind != stt.KindAPI {
		t.Errorf("kind: got %v, want api", result.Err.Kind)
	}
}
