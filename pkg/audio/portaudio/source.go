// Package portaudio implements the microphone capture source on top of the
// PortAudio C library via the gordonklaus/portaudio bindings.
//
// The driver invokes the stream callback on its own real-time thread. The
// callback only copies the buffer and performs a non-blocking send into the
// frame channel; a full channel drops the frame and bumps a counter rather
// than stalling the audio thread.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/voxlog/voxlog/pkg/audio"
)

// Device describes a selectable audio input device.
type Device struct {
	Index       int
	Name        string
	MaxChannels int
	DefaultRate float64
	Default     bool
}

// Config holds the parameters for opening a capture stream.
type Config struct {
	// DeviceIndex selects the input device. Negative means the host default.
	DeviceIndex int

	// SampleRate in Hz.
	SampleRate int

	// Channels is the number of input channels. Multi-channel input is
	// downmixed to mono before enqueueing.
	Channels int

	// FrameDuration is the length of each captured frame. Zero means 100 ms.
	FrameDuration time.Duration

	// QueueSize is the frame channel capacity. Zero means 64.
	QueueSize int
}

// Initialize prepares the PortAudio runtime. Call once at process start,
// paired with [Terminate].
func Initialize() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate releases the PortAudio runtime.
func Terminate() error {
	if err := pa.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// ListDevices enumerates the available input devices.
func ListDevices() ([]Device, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := pa.DefaultInputDevice()

	var out []Device
	for i, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, Device{
			Index:       i,
			Name:        d.Name,
			MaxChannels: d.MaxInputChannels,
			DefaultRate: d.DefaultSampleRate,
			Default:     def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// Source is an open capture stream feeding a bounded frame channel.
// A Source belongs to exactly one session; Close is idempotent.
type Source struct {
	stream     *pa.Stream
	frames     chan audio.Frame
	errs       chan error
	sampleRate int
	channels   int

	dropped atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// Open opens the input stream and starts capture immediately.
func Open(cfg Config) (*Source, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("portaudio: invalid sample rate %d", cfg.SampleRate)
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	frameDur := cfg.FrameDuration
	if frameDur <= 0 {
		frameDur = 100 * time.Millisecond
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	var dev *pa.DeviceInfo
	var err error
	if cfg.DeviceIndex < 0 {
		dev, err = pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
	} else {
		devices, err := pa.Devices()
		if err != nil {
			return nil, fmt.Errorf("portaudio: list devices: %w", err)
		}
		if cfg.DeviceIndex >= len(devices) {
			return nil, fmt.Errorf("portaudio: device index %d out of range (%d devices)", cfg.DeviceIndex, len(devices))
		}
		dev = devices[cfg.DeviceIndex]
	}
	if dev.MaxInputChannels < channels {
		return nil, fmt.Errorf("portaudio: device %q supports %d input channels, need %d", dev.Name, dev.MaxInputChannels, channels)
	}

	blockSize := audio.DurationSamples(frameDur, cfg.SampleRate)

	s := &Source{
		frames:     make(chan audio.Frame, queueSize),
		errs:       make(chan error, 1),
		sampleRate: cfg.SampleRate,
		channels:   channels,
	}

	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: blockSize,
	}

	stream, err := pa.OpenStream(params, s.callback)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	slog.Info("capture stream started",
		"device", dev.Name,
		"sample_rate", cfg.SampleRate,
		"channels", channels,
		"block_samples", blockSize)
	return s, nil
}

// callback runs on the PortAudio audio thread. It must never block.
func (s *Source) callback(in []float32) {
	samples := make([]float32, 0, len(in)/s.channels)
	if s.channels == 1 {
		samples = append(samples, in...)
	} else {
		// Downmix interleaved channels by averaging.
		for i := 0; i+s.channels <= len(in); i += s.channels {
			var sum float32
			for ch := range s.channels {
				sum += in[i+ch]
			}
			samples = append(samples, sum/float32(s.channels))
		}
	}

	frame := audio.Frame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Captured:   time.Now(),
	}
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
	}
}

// Frames returns the bounded channel of captured frames. The channel is
// closed by Close.
func (s *Source) Frames() <-chan audio.Frame { return s.frames }

// Errors returns a channel surfacing fatal capture failures.
func (s *Source) Errors() <-chan error { return s.errs }

// Dropped reports how many frames were discarded because the consumer fell
// behind.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// Close stops the stream and closes the frame channel. Safe to call more
// than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		close(s.frames)
		s.closeErr = errors.Join(errs...)
		if n := s.dropped.Load(); n > 0 {
			slog.Warn("capture dropped frames", "count", n)
		}
	})
	return s.closeErr
}
