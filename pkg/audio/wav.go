package audio

import (
	"bytes"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV renders float32 mono samples as a complete 16-bit PCM WAV file in
// memory. Remote transcription backends upload the result as their audio
// container.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", sampleRate)
	}

	ints := make([]int, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		ints[i] = int(s * 32767.0)
	}

	var buf seekBuffer
	enc := wav.NewEncoder(&buf, sampleRate, 16, 1, 1)
	err := enc.Write(&gaudio.IntBuffer{
		Data:           ints,
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalise wav: %w", err)
	}
	return buf.Bytes(), nil
}

// seekBuffer is an in-memory io.WriteSeeker. The wav encoder seeks back to
// patch chunk sizes into the header after writing the sample data.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.buf) {
		if need <= cap(b.buf) {
			b.buf = b.buf[:need]
		} else {
			grown := make([]byte, need, max(need, 2*cap(b.buf)))
			copy(grown, b.buf)
			b.buf = grown
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: invalid seek whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("audio: negative seek position %d", pos)
	}
	b.pos = int(pos)
	return pos, nil
}

func (b *seekBuffer) Bytes() []byte { return bytes.Clone(b.buf) }
