package audio

import (
	"fmt"
	"log/slog"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Normalizer converts decoded clips to a single target format: mono at the
// analysis sample rate. It logs once on the first format mismatch.
// Create one per request; not designed for shared use across goroutines.
type Normalizer struct {
	Target         Format
	warnedMismatch sync.Once
}

// Normalize downmixes clip to the target channel count and resamples it to
// the target rate. A clip that already matches is returned unchanged.
func (n *Normalizer) Normalize(clip Clip) (Clip, error) {
	if clip.Format == n.Target {
		return clip, nil
	}
	if clip.Format.Channels <= 0 || clip.Format.SampleRate <= 0 {
		return Clip{}, fmt.Errorf("audio: normalize: invalid source format %s", clip.Format)
	}

	n.warnedMismatch.Do(func() {
		slog.Debug("audio format mismatch: converting",
			"from", clip.Format.String(),
			"to", n.Target.String(),
		)
	})

	samples := clip.Samples
	if clip.Format.Channels != 1 {
		samples = Downmix(samples, clip.Format.Channels)
	}

	if clip.Format.SampleRate != n.Target.SampleRate {
		var err error
		samples, err = Resample(samples, clip.Format.SampleRate, n.Target.SampleRate)
		if err != nil {
			return Clip{}, err
		}
	}

	return Clip{
		Format:  Format{SampleRate: n.Target.SampleRate, Channels: 1},
		Samples: samples,
	}, nil
}

// Downmix averages interleaved frames of the given channel count into mono.
// A trailing incomplete frame is dropped.
func Downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using a
// band-limited resampler. If the rates match the input is returned unchanged.
func Resample(mono []float64, srcRate, dstRate int) ([]float64, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: resample: invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate || len(mono) == 0 {
		return mono, nil
	}
	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	out, err := r.Process(mono)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %dHz -> %dHz: %w", srcRate, dstRate, err)
	}
	return out, nil
}
