package dsp

import "math"

// Chroma folds a magnitude spectrogram into 12 pitch classes per frame.
// Bins below 27.5 Hz (A0) are discarded. Output is frames × 12.
func Chroma(spectrogram [][]float64, frameSize, sampleRate int) [][]float64 {
	out := make([][]float64, len(spectrogram))
	for f, mags := range spectrogram {
		pc := make([]float64, 12)
		for bin, m := range mags {
			freq := BinFrequency(bin, frameSize, sampleRate)
			if freq < 27.5 {
				continue
			}
			pc[pitchClass(freq)] += m
		}
		normalizeInPlace(pc)
		out[f] = pc
	}
	return out
}

// pitchClass maps a frequency to its chromatic pitch class, 0 = C.
func pitchClass(freq float64) int {
	midi := 69 + 12*math.Log2(freq/440)
	pc := int(math.Round(midi)) % 12
	// MIDI 60 is C4
	return ((pc % 12) + 12) % 12
}

// MeanChroma averages a chromagram across time into one 12-vector.
func MeanChroma(chroma [][]float64) []float64 {
	mean := make([]float64, 12)
	if len(chroma) == 0 {
		return mean
	}
	for _, frame := range chroma {
		for i, v := range frame {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float64(len(chroma))
	}
	return mean
}

func normalizeInPlace(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	if sum < epsilon {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}

// PearsonCorrelation returns the correlation coefficient of two equal-length
// vectors, 0 when either is constant.
func PearsonCorrelation(a, b []float64) float64 {
	n := float64(len(a))
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sumA, sumB float64
	for i := range a {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/n, sumB/n

	var cov, varA, varB float64
	for i := range a {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	denom := math.Sqrt(varA * varB)
	if denom < epsilon {
		return 0
	}
	return cov / denom
}
