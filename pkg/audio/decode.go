package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMisaligned is returned when a byte slice does not hold a whole number
// of samples.
var ErrMisaligned = errors.New("audio: byte length not aligned to sample width")

// ErrNonFinite is returned when a decoded float sample is NaN or infinite.
var ErrNonFinite = errors.New("audio: non-finite sample")

// Decode converts little-endian PCM bytes in format f into float64 samples
// appended to dst. The returned slice may share dst's backing array.
//
// len(data) must be a multiple of f.BytesPerSample(); otherwise Decode
// returns [ErrMisaligned] and dst unchanged. Float samples must be finite.
func Decode(dst []float64, f SampleFormat, data []byte) ([]float64, error) {
	width := f.BytesPerSample()
	if width == 0 {
		return dst, fmt.Errorf("audio: decode: unknown sample format %q", f)
	}
	if len(data)%width != 0 {
		return dst, fmt.Errorf("%w: %d bytes, width %d", ErrMisaligned, len(data), width)
	}
	start := len(dst)
	dst = growFloats(dst, len(data)/width)

	switch f {
	case FormatF32LE:
		for i := 0; i < len(data); i += 4 {
			v := float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return dst[:start], fmt.Errorf("%w at sample %d", ErrNonFinite, i/4)
			}
			dst = append(dst, v)
		}
	case FormatS16LE:
		for i := 0; i < len(data); i += 2 {
			s := int16(binary.LittleEndian.Uint16(data[i:]))
			dst = append(dst, float64(s)/32768)
		}
	}
	return dst, nil
}

// Encode converts samples to little-endian PCM bytes in format f. Samples
// outside [-1, 1] are clamped for integer formats.
func Encode(f SampleFormat, samples []float64) []byte {
	width := f.BytesPerSample()
	out := make([]byte, len(samples)*width)
	for i, v := range samples {
		switch f {
		case FormatF32LE:
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		case FormatS16LE:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(clampInt16(v*32767)))
		}
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func growFloats(s []float64, n int) []float64 {
	if cap(s)-len(s) >= n {
		return s
	}
	out := make([]float64, len(s), len(s)+n)
	copy(out, s)
	return out
}
