package audio

import (
	"fmt"
	"time"
)

// SampleFormat names the wire encoding of one PCM sample.
type SampleFormat string

const (
	// FormatF32LE is little-endian IEEE-754 32-bit float PCM.
	FormatF32LE SampleFormat = "f32le"

	// FormatS16LE is little-endian signed 16-bit integer PCM.
	FormatS16LE SampleFormat = "s16le"
)

// IsValid reports whether f is a supported sample format.
func (f SampleFormat) IsValid() bool {
	return f == FormatF32LE || f == FormatS16LE
}

// BytesPerSample returns the encoded width of one sample, or 0 for an
// unknown format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatF32LE:
		return 4
	case FormatS16LE:
		return 2
	}
	return 0
}

// ParseSampleFormat converts s into a [SampleFormat]. The empty string maps
// to [FormatF32LE].
func ParseSampleFormat(s string) (SampleFormat, error) {
	if s == "" {
		return FormatF32LE, nil
	}
	f := SampleFormat(s)
	if !f.IsValid() {
		return "", fmt.Errorf("audio: unknown sample format %q", s)
	}
	return f, nil
}

// AudioChunk is a span of raw bytes delivered by a transport in one read.
// Chunks carry no alignment guarantee relative to windows or samples.
type AudioChunk struct {
	// Data is the raw encoded payload.
	Data []byte

	// Arrived is the wall-clock time the chunk was received.
	Arrived time.Time
}

// SampleWindow is a fixed-length run of mono samples processed as one
// classification unit. Len(Samples) always equals the configured window size.
type SampleWindow struct {
	// Sequence is the zero-based ordinal of the window within its stream.
	Sequence uint64

	// Samples holds decoded audio normalised to [-1, 1].
	Samples []float64
}

// Format describes the sample rate and channel count of decoded audio.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable description such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Clip is a fully decoded, interleaved audio buffer.
type Clip struct {
	Format  Format
	Samples []float64
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.Format.SampleRate <= 0 || c.Format.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Format.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.Format.SampleRate)
}
