package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxlog/voxlog/pkg/provider/stt"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Unset fields keep the defaults from [Default].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("config: unknown log_level %q", cfg.LogLevel))
	}
	if !cfg.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("config: unknown mode %q", cfg.Mode))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("config: audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 {
		errs = append(errs, fmt.Errorf("config: audio.channels must be at least 1, got %d", cfg.Audio.Channels))
	}

	switch cfg.Mode {
	case stt.ModeLocal:
		if cfg.Backends.Local.ModelPath == "" {
			errs = append(errs, errors.New("config: backends.local.model_path is required in local mode"))
		}
	case stt.ModeOpenAI:
		if cfg.Backends.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("config: backends.openai.api_key is required in openai mode"))
		}
	case stt.ModeElevenLabs:
		if cfg.Backends.ElevenLabs.APIKey == "" {
			errs = append(errs, errors.New("config: backends.elevenlabs.api_key is required in elevenlabs mode"))
		}
	}

	if cfg.Segmenter.EnergyThreshold < 0 {
		errs = append(errs, fmt.Errorf("config: segmenter.energy_threshold must not be negative, got %v", cfg.Segmenter.EnergyThreshold))
	}
	if cfg.Segmenter.MinBufferSec <= 0 {
		errs = append(errs, fmt.Errorf("config: segmenter.min_buffer_sec must be positive, got %v", cfg.Segmenter.MinBufferSec))
	}
	if cfg.Segmenter.SilenceSec <= 0 {
		errs = append(errs, fmt.Errorf("config: segmenter.silence_sec must be positive, got %v", cfg.Segmenter.SilenceSec))
	}

	if cfg.VAD.Enabled {
		if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
			errs = append(errs, fmt.Errorf("config: vad.threshold must be in [0, 1], got %v", cfg.VAD.Threshold))
		}
		if cfg.Audio.SampleRate != 8000 && cfg.Audio.SampleRate != 16000 {
			errs = append(errs, fmt.Errorf("config: vad requires audio.sample_rate 8000 or 16000, got %d", cfg.Audio.SampleRate))
		}
		if cfg.VAD.MinSilenceMs <= 0 {
			errs = append(errs, fmt.Errorf("config: vad.min_silence_ms must be positive, got %d", cfg.VAD.MinSilenceMs))
		}
		if cfg.VAD.MinSpeechMs <= 0 {
			errs = append(errs, fmt.Errorf("config: vad.min_speech_ms must be positive, got %d", cfg.VAD.MinSpeechMs))
		}
	}

	if cfg.Output.File != "" && !cfg.Output.Format.IsValid() {
		errs = append(errs, fmt.Errorf("config: unknown output.format %q", cfg.Output.Format))
	}
	if cfg.Integration.Enabled && cfg.Integration.URL == "" {
		errs = append(errs, errors.New("config: integration.url is required when integration is enabled"))
	}
	if cfg.Metrics.Enabled && cfg.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("config: metrics.listen_addr is required when metrics are enabled"))
	}

	return errors.Join(errs...)
}
