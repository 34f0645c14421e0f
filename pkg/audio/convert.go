package audio

import (
	"encoding/binary"
	"math"
)

// Float32ToPCM16 converts normalised float32 samples to 16-bit signed
// little-endian PCM bytes. Values outside [-1.0, 1.0] are clipped.
func Float32ToPCM16(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		v := int16(s * 32767.0)
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(v))
	}
	return pcm
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. Any trailing odd byte is
// silently ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// RMS computes the root-mean-square energy of the samples. Returns 0 for an
// empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
