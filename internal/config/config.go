// Package config provides the configuration schema and loader for the voxlog
// streaming transcription tool.
package config

import (
	"time"

	"github.com/voxlog/voxlog/internal/sink"
	"github.com/voxlog/voxlog/pkg/provider/stt"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel    LogLevel          `yaml:"log_level"`
	Mode        stt.Mode          `yaml:"mode"`
	Audio       AudioConfig       `yaml:"audio"`
	Backends    BackendsConfig    `yaml:"backends"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	VAD         VADConfig         `yaml:"vad"`
	Output      OutputConfig      `yaml:"output"`
	Text        TextConfig        `yaml:"text"`
	Integration IntegrationConfig `yaml:"integration"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// AudioConfig selects the capture device and stream format.
type AudioConfig struct {
	// Device is the input device index. -1 selects the host default.
	Device int `yaml:"device"`

	// SampleRate in Hz. Must be 8000 or 16000 when the VAD path is enabled.
	SampleRate int `yaml:"sample_rate"`

	// Channels to capture; input is downmixed to mono.
	Channels int `yaml:"channels"`
}

// BackendsConfig holds per-engine credentials and model selection.
type BackendsConfig struct {
	// Language is the ISO language code for recognition. Empty auto-detects.
	Language string `yaml:"language"`

	Local      LocalBackendConfig      `yaml:"local"`
	OpenAI     OpenAIBackendConfig     `yaml:"openai"`
	ElevenLabs ElevenLabsBackendConfig `yaml:"elevenlabs"`
}

// LocalBackendConfig configures the on-device whisper.cpp engine.
type LocalBackendConfig struct {
	// ModelPath is the ggml model file to load.
	ModelPath string `yaml:"model_path"`
}

// OpenAIBackendConfig configures the OpenAI audio API engine.
type OpenAIBackendConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ElevenLabsBackendConfig configures the ElevenLabs scribe engine.
type ElevenLabsBackendConfig struct {
	APIKey  string `yaml:"api_key"`
	ModelID string `yaml:"model_id"`
}

// SegmenterConfig holds the energy-gate parameters, used when the VAD path is
// disabled and as the permanent fallback when it fails.
type SegmenterConfig struct {
	// EnergyThreshold in the historical 0–1000 scale.
	EnergyThreshold float64 `yaml:"energy_threshold"`

	// MinBufferSec forces a flush once this much audio has accumulated.
	MinBufferSec float64 `yaml:"min_buffer_sec"`

	// SilenceSec is the silence duration that triggers a flush.
	SilenceSec float64 `yaml:"silence_sec"`
}

// MinBuffer returns MinBufferSec as a duration.
func (c SegmenterConfig) MinBuffer() time.Duration {
	return time.Duration(c.MinBufferSec * float64(time.Second))
}

// Silence returns SilenceSec as a duration.
func (c SegmenterConfig) Silence() time.Duration {
	return time.Duration(c.SilenceSec * float64(time.Second))
}

// VADConfig holds the voice-activity-detection parameters.
type VADConfig struct {
	// Enabled selects the VAD+assembler segmentation path.
	Enabled bool `yaml:"enabled"`

	// Threshold is the speech probability threshold (0.0–1.0).
	Threshold float32 `yaml:"threshold"`

	// MinSilenceMs closes an utterance after this much silence.
	MinSilenceMs int `yaml:"min_silence_ms"`

	// MinSpeechMs opens an utterance after this much speech.
	MinSpeechMs int `yaml:"min_speech_ms"`

	// AdaptiveThreshold enables SNR-driven threshold adjustment.
	AdaptiveThreshold bool `yaml:"adaptive_threshold"`

	// Padding pads emitted segments with silence.
	Padding bool `yaml:"padding"`

	// PaddingMs is the padding length per side.
	PaddingMs int `yaml:"padding_ms"`

	// Debug enables verbose per-decision logging.
	Debug bool `yaml:"debug"`
}

// MinSilence returns MinSilenceMs as a duration.
func (c VADConfig) MinSilence() time.Duration {
	return time.Duration(c.MinSilenceMs) * time.Millisecond
}

// MinSpeech returns MinSpeechMs as a duration.
func (c VADConfig) MinSpeech() time.Duration {
	return time.Duration(c.MinSpeechMs) * time.Millisecond
}

// PaddingDuration returns PaddingMs as a duration.
func (c VADConfig) PaddingDuration() time.Duration {
	return time.Duration(c.PaddingMs) * time.Millisecond
}

// OutputConfig selects the transcript file sink.
type OutputConfig struct {
	// File is the append-only transcript path. Empty disables the sink.
	File string `yaml:"file"`

	// Format is "txt" or "json".
	Format sink.FileFormat `yaml:"format"`
}

// TextConfig points at the post-processing rule files.
type TextConfig struct {
	// FilterFile holds one filter regex per line.
	FilterFile string `yaml:"filter_file"`

	// ReplacementsFile holds a JSON object of pattern→replacement pairs.
	ReplacementsFile string `yaml:"replacements_file"`

	// FilterParentheses drops (…) and […] spans before filtering.
	FilterParentheses bool `yaml:"filter_parentheses"`
}

// IntegrationConfig configures the remote-integration channel.
type IntegrationConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL is the WebSocket endpoint payloads are pushed to.
	URL string `yaml:"url"`

	// Prefix is prepended to every outgoing transcript.
	Prefix string `yaml:"prefix"`

	// QueueSize bounds the payload queue. Zero means 100.
	QueueSize int `yaml:"queue_size"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// ListenAddr is the HTTP address serving /metrics (e.g. ":9091").
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with the tool's historical defaults applied.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Mode:     stt.ModeLocal,
		Audio: AudioConfig{
			Device:     -1,
			SampleRate: 16000,
			Channels:   1,
		},
		Backends: BackendsConfig{
			Local:      LocalBackendConfig{ModelPath: "models/ggml-base.bin"},
			OpenAI:     OpenAIBackendConfig{Model: "whisper-1"},
			ElevenLabs: ElevenLabsBackendConfig{ModelID: "scribe_v1"},
		},
		Segmenter: SegmenterConfig{
			EnergyThreshold: 50,
			MinBufferSec:    5.0,
			SilenceSec:      2.0,
		},
		VAD: VADConfig{
			Threshold:         0.55,
			MinSilenceMs:      2500,
			MinSpeechMs:       200,
			AdaptiveThreshold: true,
			Padding:           true,
			PaddingMs:         200,
		},
		Output: OutputConfig{
			File:   "transcription_log.txt",
			Format: sink.FormatText,
		},
		Text: TextConfig{
			FilterFile:       "filter_patterns.txt",
			ReplacementsFile: "replacements.json",
		},
		Integration: IntegrationConfig{
			QueueSize: 100,
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9091",
		},
	}
}
