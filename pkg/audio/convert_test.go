package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/auralyze/pkg/audio"
)

func TestDownmix_Stereo(t *testing.T) {
	// Two stereo frames: L=0.2,R=0.4 and L=-0.2,R=-0.4
	got := audio.Downmix([]float64{0.2, 0.4, -0.2, -0.4}, 2)
	want := []float64{0.3, -0.3}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDownmix_DropsIncompleteFrame(t *testing.T) {
	got := audio.Downmix([]float64{1, 1, 1}, 2)
	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
}

func TestDownmix_MonoPassthrough(t *testing.T) {
	in := []float64{0.1, 0.2}
	got := audio.Downmix(in, 1)
	if &got[0] != &in[0] {
		t.Error("expected same slice for mono input")
	}
}

func TestResample_SameRate(t *testing.T) {
	in := []float64{0.1, 0.2, 0.3}
	out, err := audio.Resample(in, 16000, 16000)
	if err != nil {
		t.Fatalf("Resample() error: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(in))
	}
}

func TestResample_InvalidRate(t *testing.T) {
	if _, err := audio.Resample([]float64{0.1}, 0, 16000); err == nil {
		t.Fatal("expected error for zero source rate")
	}
}

func TestResample_Downsample(t *testing.T) {
	in := make([]float64, 48000)
	for i := range in {
		in[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/48000)
	}
	out, err := audio.Resample(in, 48000, 16000)
	if err != nil {
		t.Fatalf("Resample() error: %v", err)
	}
	if len(out) == 0 || len(out) > 16000+64 {
		t.Fatalf("unexpected output length %d for 1s at 16kHz", len(out))
	}
}

func TestNormalizer_NoOp(t *testing.T) {
	n := audio.Normalizer{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	clip := audio.Clip{
		Format:  audio.Format{SampleRate: 16000, Channels: 1},
		Samples: []float64{0.1, 0.2},
	}
	got, err := n.Normalize(clip)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if &got.Samples[0] != &clip.Samples[0] {
		t.Error("expected same slice (zero allocation) for matching format")
	}
}

func TestNormalizer_StereoToMono(t *testing.T) {
	n := audio.Normalizer{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	got, err := n.Normalize(audio.Clip{
		Format:  audio.Format{SampleRate: 16000, Channels: 2},
		Samples: []float64{0.2, 0.4, 0.6, 0.8},
	})
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if got.Format.Channels != 1 {
		t.Errorf("channels: got %d, want 1", got.Format.Channels)
	}
	if len(got.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got.Samples))
	}
}

func TestNormalizer_InvalidSource(t *testing.T) {
	n := audio.Normalizer{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	if _, err := n.Normalize(audio.Clip{Format: audio.Format{}}); err == nil {
		t.Fatal("expected error for zero-valued source format")
	}
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
