package audio

// SliceWindows splits mono samples into consecutive windows of exactly size
// samples. A trailing partial window is dropped. When samples holds fewer
// than size samples but at least one, a single zero-padded window is
// returned so short recordings still produce one classification unit.
func SliceWindows(samples []float64, size int) []SampleWindow {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	if len(samples) < size {
		padded := make([]float64, size)
		copy(padded, samples)
		return []SampleWindow{{Sequence: 0, Samples: padded}}
	}
	n := len(samples) / size
	out := make([]SampleWindow, n)
	for i := range n {
		out[i] = SampleWindow{
			Sequence: uint64(i),
			Samples:  samples[i*size : (i+1)*size : (i+1)*size],
		}
	}
	return out
}
