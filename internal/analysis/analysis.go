// Package analysis classifies complete audio files.
//
// A file is decoded (WAV by header, otherwise headerless PCM), converted to
// mono at the analysis sample rate, and cut into consecutive full windows.
// Every window is classified independently and the per-window predictions
// are aggregated into one result: the label with the highest summed
// confidence wins and its reported confidence is the mean over the windows
// that carried it.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/auralyze/internal/observe"
	"github.com/MrWong99/auralyze/pkg/audio"
	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

var (
	// ErrDecode is returned when the input cannot be decoded into audio.
	ErrDecode = errors.New("analysis: cannot decode audio")

	// ErrAllWindowsFailed is returned when no window could be classified.
	ErrAllWindowsFailed = errors.New("analysis: classification failed for every window")
)

// Config holds the analysis parameters.
type Config struct {
	// Features configures extraction; Features.SampleRate is the rate files
	// are resampled to.
	Features features.Config

	// Raw describes headerless PCM input. A zero SampleRate means
	// Features.SampleRate.
	Raw audio.RawFormat

	// ClassifierTimeout bounds each per-window classifier call.
	ClassifierTimeout time.Duration

	// Concurrency bounds parallel extraction and classification.
	// 0 means GOMAXPROCS.
	Concurrency int
}

// Report is the aggregated result for one file.
type Report struct {
	Prediction    string    `json:"prediction"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
	FeaturesUsed  []string  `json:"features_used"`
	Windows       int       `json:"windows"`
	FailedWindows int       `json:"failed_windows"`
	Duration      float64   `json:"duration_seconds"`
}

// Analyzer runs file analysis. It is safe for concurrent use.
type Analyzer struct {
	cfg        Config
	classifier classifier.Classifier
	metrics    *observe.Metrics
}

// New validates cfg and returns an [Analyzer]. metrics may be nil.
func New(cfg Config, cls classifier.Classifier, metrics *observe.Metrics) (*Analyzer, error) {
	if cls == nil {
		return nil, fmt.Errorf("analysis: classifier is required")
	}
	if err := cfg.Features.Validate(); err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}
	if cfg.Raw.Encoding == "" {
		cfg.Raw.Encoding = audio.FormatF32LE
	}
	if cfg.Raw.SampleRate <= 0 {
		cfg.Raw.SampleRate = cfg.Features.SampleRate
	}
	if cfg.ClassifierTimeout <= 0 {
		cfg.ClassifierTimeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Analyzer{cfg: cfg, classifier: classifier.Checked(cls), metrics: metrics}, nil
}

// AnalyzeFile reads r to the end and analyses its contents.
func (a *Analyzer) AnalyzeFile(ctx context.Context, r io.Reader) (Report, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Report{}, fmt.Errorf("analysis: read: %w", err)
	}
	return a.Analyze(ctx, data)
}

// Analyze classifies an in-memory file.
func (a *Analyzer) Analyze(ctx context.Context, data []byte) (Report, error) {
	ctx, span := observe.StartFileSpan(ctx, len(data))
	defer span.End()

	vecs, clip, err := a.Features(ctx, data)
	if err != nil {
		return Report{}, err
	}
	span.SetAttributes(observe.AttrFileWindows.Int(len(vecs)))

	preds := make([]classifier.Prediction, len(vecs))
	failed := make([]bool, len(vecs))
	var lastErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	errs := make([]error, len(vecs))
	for i, v := range vecs {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, a.cfg.ClassifierTimeout)
			defer cancel()
			start := time.Now()
			p, err := a.classifier.Classify(cctx, v)
			status := "ok"
			if err != nil {
				status = "error"
				if errors.Is(err, context.DeadlineExceeded) {
					status = "timeout"
				}
				failed[i], errs[i] = true, err
			} else {
				preds[i] = p
			}
			a.metrics.RecordClassifier(gctx, a.classifier.Info().Name, status, time.Since(start))
			return nil
		})
	}
	// Per-window failures are collected in errs; only cancellation aborts.
	if err := g.Wait(); err != nil {
		return Report{}, fmt.Errorf("analysis: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("analysis: %w", err)
	}

	nFailed := 0
	for i, f := range failed {
		if f {
			nFailed++
			lastErr = errs[i]
		}
	}
	if nFailed == len(vecs) {
		return Report{}, fmt.Errorf("%w: %w", ErrAllWindowsFailed, lastErr)
	}

	label, conf := Aggregate(preds, failed)
	return Report{
		Prediction:    label,
		Confidence:    conf,
		Timestamp:     time.Now().UTC(),
		FeaturesUsed:  []string{features.NameMFCC},
		Windows:       len(vecs),
		FailedWindows: nFailed,
		Duration:      clip.Duration().Seconds(),
	}, nil
}

// Aggregate combines per-window predictions, skipping entries marked in
// failed. The label with the highest summed confidence wins, ties broken by
// label order; the returned confidence is the mean confidence of that
// label's windows.
func Aggregate(preds []classifier.Prediction, failed []bool) (string, float64) {
	sums := map[string]float64{}
	counts := map[string]int{}
	for i, p := range preds {
		if i < len(failed) && failed[i] {
			continue
		}
		sums[p.Label] += p.Confidence
		counts[p.Label]++
	}
	labels := make([]string, 0, len(sums))
	for l := range sums {
		labels = append(labels, l)
	}
	slices.Sort(labels)

	best := ""
	for _, l := range labels {
		if best == "" || sums[l] > sums[best] {
			best = l
		}
	}
	if best == "" {
		return "", 0
	}
	return best, sums[best] / float64(counts[best])
}

// Features decodes data into mono windows at the analysis rate and extracts
// one vector per window, in order. The normalised clip is returned too.
func (a *Analyzer) Features(ctx context.Context, data []byte) ([]features.Vector, audio.Clip, error) {
	clip, err := audio.DecodeFile(data, a.cfg.Raw)
	if err != nil {
		return nil, audio.Clip{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	norm := audio.Normalizer{Target: audio.Format{SampleRate: a.cfg.Features.SampleRate, Channels: 1}}
	clip, err = norm.Normalize(clip)
	if err != nil {
		return nil, audio.Clip{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	windows := audio.SliceWindows(clip.Samples, a.cfg.Features.WindowSize)
	if len(windows) == 0 {
		return nil, audio.Clip{}, fmt.Errorf("%w: %w", ErrDecode, audio.ErrEmptyFile)
	}

	vecs := make([]features.Vector, len(windows))
	workers := min(a.cfg.Concurrency, len(windows))

	// Extractors are not safe for concurrent use: one per worker, each
	// taking every workers-th window.
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		g.Go(func() error {
			ext, err := features.New(a.cfg.Features)
			if err != nil {
				return err
			}
			for i := w; i < len(windows); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				v, err := ext.Extract(windows[i].Samples)
				if err != nil {
					return fmt.Errorf("%w: window %d: %w", ErrDecode, i, err)
				}
				vecs[i] = v
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, audio.Clip{}, err
	}
	return vecs, clip, nil
}
