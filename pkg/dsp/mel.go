package dsp

import "math"

// NumMFCC is the coefficient count produced by MFCC.
const NumMFCC = 13

const numMelBands = 40

func hzToMel(hz float64) float64  { return 2595 * math.Log10(1+hz/700) }
func melToHz(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

// MelFilterbank builds numBands triangular filters across [0, sampleRate/2]
// for spectra of bins magnitude bins.
func MelFilterbank(numBands, bins, frameSize, sampleRate int) [][]float64 {
	low := hzToMel(0)
	high := hzToMel(float64(sampleRate) / 2)

	points := make([]float64, numBands+2)
	for i := range points {
		mel := low + (high-low)*float64(i)/float64(numBands+1)
		points[i] = melToHz(mel)
	}

	binOf := func(hz float64) int {
		return int(hz * float64(frameSize) / float64(sampleRate))
	}

	filters := make([][]float64, numBands)
	for b := 0; b < numBands; b++ {
		filter := make([]float64, bins)
		left, center, right := binOf(points[b]), binOf(points[b+1]), binOf(points[b+2])
		for i := left; i < center && i < bins; i++ {
			if center > left {
				filter[i] = float64(i-left) / float64(center-left)
			}
		}
		for i := center; i < right && i < bins; i++ {
			if right > center {
				filter[i] = float64(right-i) / float64(right-center)
			}
		}
		filters[b] = filter
	}
	return filters
}

// MFCC computes per-frame mel-frequency cepstral coefficients from a
// magnitude spectrogram. Output is frames × NumMFCC.
func MFCC(spectrogram [][]float64, frameSize, sampleRate int) [][]float64 {
	if len(spectrogram) == 0 {
		return nil
	}
	filters := MelFilterbank(numMelBands, len(spectrogram[0]), frameSize, sampleRate)

	out := make([][]float64, len(spectrogram))
	for f, mags := range spectrogram {
		energies := make([]float64, numMelBands)
		for b, filter := range filters {
			var e float64
			for i, w := range filter {
				if w > 0 {
					e += w * mags[i] * mags[i]
				}
			}
			energies[b] = math.Log(e + epsilon)
		}
		out[f] = dctII(energies, NumMFCC)
	}
	return out
}

// dctII computes the first k coefficients of the type-II DCT.
func dctII(input []float64, k int) []float64 {
	n := len(input)
	out := make([]float64, k)
	for c := 0; c < k; c++ {
		var sum float64
		for i, v := range input {
			sum += v * math.Cos(math.Pi*float64(c)*(float64(i)+0.5)/float64(n))
		}
		out[c] = sum
	}
	return out
}

// Deltas returns first-order frame-to-frame differences of a coefficient
// matrix, same shape as the input with a zero first row.
func Deltas(coeffs [][]float64) [][]float64 {
	if len(coeffs) == 0 {
		return nil
	}
	out := make([][]float64, len(coeffs))
	out[0] = make([]float64, len(coeffs[0]))
	for f := 1; f < len(coeffs); f++ {
		row := make([]float64, len(coeffs[f]))
		for i := range row {
			row[i] = coeffs[f][i] - coeffs[f-1][i]
		}
		out[f] = row
	}
	return out
}
