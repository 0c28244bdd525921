// Package dsp implements the signal-processing primitives behind the audio
// feature extractors: FFT/STFT, filtering, resampling, mel analysis and
// harmonic/percussive separation. Samples are 32-bit floats; accumulation
// happens in 64-bit.
package dsp

import "math"

// Analysis frame geometry shared by all extractors.
const (
	FrameSize = 2048
	HopSize   = 512
)

const epsilon = 1e-10

// HanningWindow returns an N-point Hann window.
func HanningWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// STFT computes the magnitude spectrogram of samples with the package frame
// geometry. Each row holds frameSize/2+1 magnitude bins.
func STFT(samples []float32, frameSize, hop int) [][]float64 {
	if len(samples) < frameSize {
		return nil
	}
	window := HanningWindow(frameSize)
	numFrames := 1 + (len(samples)-frameSize)/hop
	bins := frameSize/2 + 1

	frames := make([][]float64, numFrames)
	windowed := make([]float32, frameSize)
	for f := 0; f < numFrames; f++ {
		start := f * hop
		for i := 0; i < frameSize; i++ {
			windowed[i] = samples[start+i] * float32(window[i])
		}
		spectrum := FFT(windowed)
		mags := make([]float64, bins)
		for i := 0; i < bins; i++ {
			mags[i] = cmplxAbs(spectrum[i])
		}
		frames[f] = mags
	}
	return frames
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// BinFrequency maps an FFT bin index to Hz.
func BinFrequency(bin, frameSize, sampleRate int) float64 {
	return float64(bin) * float64(sampleRate) / float64(frameSize)
}

// SpectralCentroid returns the magnitude-weighted mean frequency of one
// spectrum row.
func SpectralCentroid(mags []float64, frameSize, sampleRate int) float64 {
	var weighted, total float64
	for i, m := range mags {
		weighted += BinFrequency(i, frameSize, sampleRate) * m
		total += m
	}
	return weighted / (total + epsilon)
}

// SpectralRolloff returns the frequency below which pct of the spectral
// energy lies.
func SpectralRolloff(mags []float64, frameSize, sampleRate int, pct float64) float64 {
	var total float64
	for _, m := range mags {
		total += m
	}
	target := total * pct
	var cum float64
	for i, m := range mags {
		cum += m
		if cum >= target {
			return BinFrequency(i, frameSize, sampleRate)
		}
	}
	return BinFrequency(len(mags)-1, frameSize, sampleRate)
}

// SpectralBandwidth returns the magnitude-weighted standard deviation of
// frequency around the centroid.
func SpectralBandwidth(mags []float64, frameSize, sampleRate int) float64 {
	centroid := SpectralCentroid(mags, frameSize, sampleRate)
	var weighted, total float64
	for i, m := range mags {
		d := BinFrequency(i, frameSize, sampleRate) - centroid
		weighted += d * d * m
		total += m
	}
	return math.Sqrt(weighted / (total + epsilon))
}

// SpectralFlatness returns the ratio of geometric to arithmetic mean of the
// spectrum; 1.0 for white noise, near 0 for pure tones.
func SpectralFlatness(mags []float64) float64 {
	var logSum, sum float64
	for _, m := range mags {
		logSum += math.Log(m + epsilon)
		sum += m
	}
	n := float64(len(mags))
	geo := math.Exp(logSum / n)
	arith := sum / n
	return geo / (arith + epsilon)
}

// SpectralFlux returns the positive spectral difference between two
// consecutive frames, the onset-strength building block.
func SpectralFlux(prev, curr []float64) float64 {
	var flux float64
	for i := range curr {
		d := curr[i] - prev[i]
		if d > 0 {
			flux += d
		}
	}
	return flux
}

// ZeroCrossingRate returns the fraction of adjacent sample pairs with a sign
// change within one frame.
func ZeroCrossingRate(frame []float32) float64 {
	if len(frame) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i-1] >= 0) != (frame[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame)-1)
}

// RMS returns the root-mean-square level of one frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Frames slices samples into hop-spaced frames of frameSize, without
// copying. The final partial frame is dropped.
func Frames(samples []float32, frameSize, hop int) [][]float32 {
	if len(samples) < frameSize {
		return nil
	}
	n := 1 + (len(samples)-frameSize)/hop
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		start := i * hop
		out[i] = samples[start : start+frameSize]
	}
	return out
}
