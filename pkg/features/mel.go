package features

import "math"

// hammingWindow generates a Hamming window of length n.
func hammingWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilter is one triangular filter stored sparsely as a run of weights
// starting at FFT bin start.
type melFilter struct {
	start   int
	weights []float64
}

// apply returns the weighted sum of power over the filter's support.
func (f melFilter) apply(power []float64) float64 {
	var sum float64
	for i, w := range f.weights {
		sum += w * power[f.start+i]
	}
	return sum
}

// melFilterBank builds numMels triangular filters spaced evenly on the mel
// scale between lowFreq and highFreq over fftSize/2+1 power bins.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) []melFilter {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	step := (highMel - lowMel) / float64(numMels+1)
	bins := make([]int, numMels+2)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		bins[i] = min(bin, halfFFT-1)
	}
	// Every filter spans at least one bin.
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([]melFilter, numMels)
	for m := range numMels {
		left, center, right := bins[m], bins[m+1], bins[m+2]
		right = min(right, halfFFT-1)
		if left >= halfFFT {
			bank[m] = melFilter{start: halfFFT - 1, weights: []float64{0}}
			continue
		}
		weights := make([]float64, right-left+1)
		for k := left; k <= right; k++ {
			switch {
			case k < center && center != left:
				weights[k-left] = float64(k-left) / float64(center-left)
			case k >= center && right != center:
				weights[k-left] = float64(right-k) / float64(right-center)
			case k == center:
				weights[k-left] = 1
			}
		}
		bank[m] = melFilter{start: left, weights: weights}
	}
	return bank
}
