package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrEmptyFile is returned by [DecodeFile] when the input has no samples.
var ErrEmptyFile = errors.New("audio: file contains no audio")

// wavFormatFloat is the WAVE_FORMAT_IEEE_FLOAT tag in a fmt chunk.
const wavFormatFloat = 3

// RawFormat describes how to interpret a headerless PCM upload.
type RawFormat struct {
	Encoding   SampleFormat
	SampleRate int
	Channels   int
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeFile decodes a complete audio file. RIFF/WAVE input is parsed from
// its header; anything else is treated as headerless PCM described by raw.
func DecodeFile(data []byte, raw RawFormat) (Clip, error) {
	if IsWAV(data) {
		return decodeWAV(data)
	}
	samples, err := Decode(nil, raw.Encoding, data)
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode raw pcm: %w", err)
	}
	if len(samples) == 0 {
		return Clip{}, ErrEmptyFile
	}
	ch := raw.Channels
	if ch <= 0 {
		ch = 1
	}
	return Clip{
		Format:  Format{SampleRate: raw.SampleRate, Channels: ch},
		Samples: samples,
	}, nil
}

func decodeWAV(data []byte) (Clip, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return Clip{}, ErrEmptyFile
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(d.BitDepth)
	}
	samples, err := intsToFloats(buf, bitDepth, d.WavAudioFormat == wavFormatFloat)
	if err != nil {
		return Clip{}, err
	}
	return Clip{
		Format: Format{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
		Samples: samples,
	}, nil
}

// intsToFloats scales integer PCM into [-1, 1]. 32-bit IEEE float files are
// delivered by the decoder as raw bit patterns and reinterpreted here.
func intsToFloats(buf *goaudio.IntBuffer, bitDepth int, isFloat bool) ([]float64, error) {
	out := make([]float64, len(buf.Data))
	if isFloat {
		if bitDepth != 32 {
			return nil, fmt.Errorf("audio: unsupported float wav bit depth %d", bitDepth)
		}
		for i, v := range buf.Data {
			f := float64(math.Float32frombits(uint32(v)))
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w at sample %d", ErrNonFinite, i)
			}
			out[i] = f
		}
		return out, nil
	}

	switch bitDepth {
	case 8:
		// 8-bit WAV is unsigned with a 128 midpoint.
		for i, v := range buf.Data {
			out[i] = float64(v-128) / 128
		}
	case 16, 24, 32:
		scale := float64(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			out[i] = float64(v) / scale
		}
	default:
		return nil, fmt.Errorf("audio: unsupported wav bit depth %d", bitDepth)
	}
	return out, nil
}
