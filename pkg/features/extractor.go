// Package features converts fixed-size sample windows into numeric feature
// vectors for classification.
//
// The only extractor currently implemented computes Mel-frequency cepstral
// coefficients: pre-emphasis, framing with a Hamming window, power spectrum,
// triangular mel filterbank, log compression and a DCT-II. Per-frame
// coefficients are averaged over the window so every window yields a vector
// of exactly FeatureCount values.
//
// An [Extractor] holds scratch buffers and transform plans and is therefore
// not safe for concurrent use. Create one per goroutine; construction is cheap.
package features

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ErrInvalidWindow is returned by [Extractor.Extract] when the window length
// differs from the configured window size or contains non-finite samples.
var ErrInvalidWindow = errors.New("features: invalid window")

// NameMFCC is the feature name reported in classification results.
const NameMFCC = "MFCC"

// logFloor keeps log compression finite for silent frames.
const logFloor = 1e-10

// Vector is an ordered, fixed-length feature vector. Treat it as immutable
// once returned.
type Vector []float64

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Float32 converts v for storage backends that use single precision.
func (v Vector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Config holds the extraction parameters.
type Config struct {
	// SampleRate of the input samples in Hz.
	SampleRate int

	// WindowSize is the exact number of samples per window.
	WindowSize int

	// FeatureCount is the number of cepstral coefficients per vector.
	FeatureCount int

	// FrameSize is the analysis frame length in samples.
	FrameSize int

	// HopSize is the frame shift in samples.
	HopSize int

	// FFTSize is the transform length; frames are zero-padded to it.
	FFTSize int

	// NumMels is the number of mel filterbank channels.
	NumMels int

	// LowFreq and HighFreq bound the filterbank in Hz. HighFreq 0 means
	// SampleRate/2.
	LowFreq  float64
	HighFreq float64

	// PreEmphasis is the first-order high-pass coefficient. 0 disables it.
	PreEmphasis float64
}

// DefaultConfig returns 13 MFCCs over 4096-sample windows at 16 kHz with
// 25 ms frames and a 10 ms hop.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		WindowSize:   4096,
		FeatureCount: 13,
		FrameSize:    400,
		HopSize:      160,
		FFTSize:      512,
		NumMels:      40,
		LowFreq:      20,
		PreEmphasis:  0.97,
	}
}

// Validate checks that c describes a usable extractor.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, fmt.Errorf("window_size must be positive, got %d", c.WindowSize))
	}
	if c.FeatureCount <= 0 {
		errs = append(errs, fmt.Errorf("feature_count must be positive, got %d", c.FeatureCount))
	}
	if c.FrameSize <= 0 || c.FrameSize > c.WindowSize {
		errs = append(errs, fmt.Errorf("frame_size %d must be in [1, window_size %d]", c.FrameSize, c.WindowSize))
	}
	if c.HopSize <= 0 {
		errs = append(errs, fmt.Errorf("hop_size must be positive, got %d", c.HopSize))
	}
	if c.FFTSize < c.FrameSize {
		errs = append(errs, fmt.Errorf("fft_size %d must be >= frame_size %d", c.FFTSize, c.FrameSize))
	}
	if c.NumMels <= 0 || c.NumMels < c.FeatureCount {
		errs = append(errs, fmt.Errorf("num_mels %d must be >= feature_count %d", c.NumMels, c.FeatureCount))
	}
	high := c.highFreq()
	if c.LowFreq < 0 || c.LowFreq >= high {
		errs = append(errs, fmt.Errorf("low_freq %.1f must be in [0, high_freq %.1f)", c.LowFreq, high))
	}
	if c.SampleRate > 0 && high > float64(c.SampleRate)/2 {
		errs = append(errs, fmt.Errorf("high_freq %.1f exceeds Nyquist %.1f", high, float64(c.SampleRate)/2))
	}
	if c.PreEmphasis < 0 || c.PreEmphasis >= 1 {
		errs = append(errs, fmt.Errorf("pre_emphasis %.2f must be in [0, 1)", c.PreEmphasis))
	}
	return errors.Join(errs...)
}

func (c Config) highFreq() float64 {
	if c.HighFreq > 0 {
		return c.HighFreq
	}
	return float64(c.SampleRate) / 2
}

// NumFrames returns how many analysis frames fit into one window.
func (c Config) NumFrames() int {
	if c.WindowSize < c.FrameSize || c.HopSize <= 0 {
		return 0
	}
	return 1 + (c.WindowSize-c.FrameSize)/c.HopSize
}

// Extractor computes MFCC vectors for fixed-size windows.
type Extractor struct {
	cfg     Config
	fft     *fourier.FFT
	dct     *fourier.DCT
	hamming []float64
	bank    []melFilter

	// scratch buffers reused across calls
	emph   []float64
	frame  []float64
	coeffs []complex128
	power  []float64
	logMel []float64
	cep    []float64
}

// New validates cfg and returns a ready [Extractor].
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("features: invalid config: %w", err)
	}
	half := cfg.FFTSize/2 + 1
	return &Extractor{
		cfg:     cfg,
		fft:     fourier.NewFFT(cfg.FFTSize),
		dct:     fourier.NewDCT(cfg.NumMels),
		hamming: hammingWindow(cfg.FrameSize),
		bank:    melFilterBank(cfg.NumMels, cfg.FFTSize, cfg.SampleRate, cfg.LowFreq, cfg.highFreq()),
		emph:    make([]float64, cfg.WindowSize),
		frame:   make([]float64, cfg.FFTSize),
		coeffs:  make([]complex128, half),
		power:   make([]float64, half),
		logMel:  make([]float64, cfg.NumMels),
		cep:     make([]float64, cfg.NumMels),
	}, nil
}

// Config returns the configuration the extractor was built with.
func (e *Extractor) Config() Config { return e.cfg }

// Names returns the feature names contributing to each vector.
func (e *Extractor) Names() []string { return []string{NameMFCC} }

// Extract computes the feature vector for window. The window must contain
// exactly Config().WindowSize finite samples.
func (e *Extractor) Extract(window []float64) (Vector, error) {
	if len(window) != e.cfg.WindowSize {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrInvalidWindow, len(window), e.cfg.WindowSize)
	}
	for i, s := range window {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: non-finite sample at %d", ErrInvalidWindow, i)
		}
	}

	e.preEmphasize(window)

	out := make(Vector, e.cfg.FeatureCount)
	frames := e.cfg.NumFrames()
	for f := range frames {
		e.frameCepstrum(f * e.cfg.HopSize)
		for i := range out {
			out[i] += e.cep[i]
		}
	}
	inv := 1 / float64(frames)
	for i := range out {
		out[i] *= inv
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, fmt.Errorf("%w: non-finite coefficient %d", ErrInvalidWindow, i)
		}
	}
	return out, nil
}

func (e *Extractor) preEmphasize(window []float64) {
	a := e.cfg.PreEmphasis
	e.emph[0] = window[0]
	for i := 1; i < len(window); i++ {
		e.emph[i] = window[i] - a*window[i-1]
	}
}

// frameCepstrum leaves the cepstrum of the frame starting at offset in e.cep.
func (e *Extractor) frameCepstrum(offset int) {
	n := e.cfg.FrameSize
	for i := range n {
		e.frame[i] = e.emph[offset+i] * e.hamming[i]
	}
	clear(e.frame[n:])

	e.coeffs = e.fft.Coefficients(e.coeffs, e.frame)
	scale := 1 / float64(e.cfg.FFTSize)
	for i, c := range e.coeffs {
		re, im := real(c), imag(c)
		e.power[i] = (re*re + im*im) * scale
	}

	for m, filter := range e.bank {
		e.logMel[m] = math.Log(max(filter.apply(e.power), logFloor))
	}
	e.dct.Transform(e.cep, e.logMel)
}
