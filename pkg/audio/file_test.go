package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/auralyze/pkg/audio"
)

// pcm16WAV builds a minimal RIFF/WAVE container around 16-bit PCM samples.
func pcm16WAV(rate, channels int, samples ...int16) []byte {
	data := s16Bytes(samples...)
	buf := make([]byte, 44+len(data))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(data)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(rate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(rate*channels*2))
	binary.LittleEndian.PutUint16(buf[32:], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(data)))
	copy(buf[44:], data)
	return buf
}

func TestIsWAV(t *testing.T) {
	if !audio.IsWAV(pcm16WAV(16000, 1, 0)) {
		t.Error("expected WAV header to be detected")
	}
	if audio.IsWAV(f32Bytes(0.1, 0.2, 0.3)) {
		t.Error("raw PCM misdetected as WAV")
	}
}

func TestDecodeFile_WAV(t *testing.T) {
	clip, err := audio.DecodeFile(pcm16WAV(22050, 2, 16384, -16384, 0, 0), audio.RawFormat{})
	if err != nil {
		t.Fatalf("DecodeFile() error: %v", err)
	}
	if clip.Format.SampleRate != 22050 || clip.Format.Channels != 2 {
		t.Errorf("format: got %s", clip.Format)
	}
	if len(clip.Samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(clip.Samples))
	}
	if clip.Samples[0] != 0.5 || clip.Samples[1] != -0.5 {
		t.Errorf("samples: got %v", clip.Samples[:2])
	}
}

func TestDecodeFile_Raw(t *testing.T) {
	clip, err := audio.DecodeFile(f32Bytes(0.1, 0.2), audio.RawFormat{
		Encoding:   audio.FormatF32LE,
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("DecodeFile() error: %v", err)
	}
	if clip.Format.Channels != 1 || clip.Format.SampleRate != 16000 {
		t.Errorf("format: got %s", clip.Format)
	}
	if len(clip.Samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(clip.Samples))
	}
}

func TestDecodeFile_RawMisaligned(t *testing.T) {
	_, err := audio.DecodeFile([]byte{1, 2, 3}, audio.RawFormat{Encoding: audio.FormatF32LE, SampleRate: 16000})
	if !errors.Is(err, audio.ErrMisaligned) {
		t.Errorf("expected ErrMisaligned, got %v", err)
	}
}

func TestDecodeFile_Empty(t *testing.T) {
	_, err := audio.DecodeFile(nil, audio.RawFormat{Encoding: audio.FormatF32LE, SampleRate: 16000})
	if !errors.Is(err, audio.ErrEmptyFile) {
		t.Errorf("expected ErrEmptyFile, got %v", err)
	}
}
