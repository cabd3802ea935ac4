package features

// Descriptor documents one available feature extractor.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Catalog lists the feature extractors available under cfg. The MFCC entry
// is what streaming and file analysis compute; the mel spectrogram entry
// describes the intermediate filterbank representation.
func Catalog(cfg Config) []Descriptor {
	return []Descriptor{
		{
			Name:        NameMFCC,
			Description: "Mel-frequency cepstral coefficients averaged over each analysis window",
			Parameters: map[string]any{
				"n_mfcc":      cfg.FeatureCount,
				"n_mels":      cfg.NumMels,
				"n_fft":       cfg.FFTSize,
				"win_length":  cfg.FrameSize,
				"hop_length":  cfg.HopSize,
				"sample_rate": cfg.SampleRate,
				"window_size": cfg.WindowSize,
			},
		},
		{
			Name:        "Mel Spectrogram",
			Description: "Log-power mel filterbank energies",
			Parameters: map[string]any{
				"n_mels": 128,
			},
		},
	}
}
