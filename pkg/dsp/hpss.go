package dsp

import (
	"sort"
)

const hpssKernel = 31

// HPSSResult holds the harmonic/percussive decomposition of one signal.
// Magnitude spectrograms are frames × bins; the time-domain buffers are
// reconstructed with overlap-add and approximately sum to the input.
type HPSSResult struct {
	HarmonicSpec   [][]float64
	PercussiveSpec [][]float64
	Harmonic       []float32
	Percussive     []float32
	HarmonicRatio  float64
}

// HPSS separates samples into harmonic and percussive components by median
// filtering the magnitude spectrogram: harmonic content is smooth across
// time, percussive content is smooth across frequency.
func HPSS(samples []float32, frameSize, hop, sampleRate int) *HPSSResult {
	complexSpec := complexSTFT(samples, frameSize, hop)
	if len(complexSpec) == 0 {
		return &HPSSResult{}
	}
	frames, bins := len(complexSpec), len(complexSpec[0])

	mags := make([][]float64, frames)
	for f := range complexSpec {
		mags[f] = make([]float64, bins)
		for b, c := range complexSpec[f] {
			mags[f][b] = cmplxAbs(c)
		}
	}

	harmMag := medianFilterTime(mags, hpssKernel)
	percMag := medianFilterFreq(mags, hpssKernel)

	// soft masks from the filtered magnitudes
	harmSpec := make([][]float64, frames)
	percSpec := make([][]float64, frames)
	harmComplex := make([][]complex128, frames)
	percComplex := make([][]complex128, frames)
	var harmEnergy, totalEnergy float64
	for f := 0; f < frames; f++ {
		harmSpec[f] = make([]float64, bins)
		percSpec[f] = make([]float64, bins)
		harmComplex[f] = make([]complex128, bins)
		percComplex[f] = make([]complex128, bins)
		for b := 0; b < bins; b++ {
			h, p := harmMag[f][b], percMag[f][b]
			maskH := h / (h + p + epsilon)
			maskP := p / (h + p + epsilon)
			harmSpec[f][b] = mags[f][b] * maskH
			percSpec[f][b] = mags[f][b] * maskP
			harmComplex[f][b] = scale(complexSpec[f][b], maskH)
			percComplex[f][b] = scale(complexSpec[f][b], maskP)

			e := mags[f][b] * mags[f][b]
			totalEnergy += e
			harmEnergy += e * maskH
		}
	}

	ratio := 0.0
	if totalEnergy > epsilon {
		ratio = harmEnergy / totalEnergy
	}

	return &HPSSResult{
		HarmonicSpec:   harmSpec,
		PercussiveSpec: percSpec,
		Harmonic:       istft(harmComplex, frameSize, hop, len(samples)),
		Percussive:     istft(percComplex, frameSize, hop, len(samples)),
		HarmonicRatio:  ratio,
	}
}

func scale(c complex128, s float64) complex128 {
	return complex(real(c)*s, imag(c)*s)
}

func complexSTFT(samples []float32, frameSize, hop int) [][]complex128 {
	if len(samples) < frameSize {
		return nil
	}
	window := HanningWindow(frameSize)
	numFrames := 1 + (len(samples)-frameSize)/hop
	bins := frameSize/2 + 1

	out := make([][]complex128, numFrames)
	windowed := make([]float32, frameSize)
	for f := 0; f < numFrames; f++ {
		start := f * hop
		for i := 0; i < frameSize; i++ {
			windowed[i] = samples[start+i] * float32(window[i])
		}
		spectrum := FFT(windowed)
		out[f] = spectrum[:bins]
	}
	return out
}

// istft reconstructs a time-domain signal from half-spectra by conjugate
// mirroring, inverse FFT and windowed overlap-add.
func istft(spec [][]complex128, frameSize, hop, outLen int) []float32 {
	if len(spec) == 0 {
		return nil
	}
	window := HanningWindow(frameSize)
	acc := make([]float64, outLen)
	norm := make([]float64, outLen)

	full := make([]complex128, frameSize)
	for f, half := range spec {
		copy(full, half)
		for b := 1; b < frameSize/2; b++ {
			c := half[b]
			full[frameSize-b] = complex(real(c), -imag(c))
		}
		frame := IFFT(full)
		start := f * hop
		for i := 0; i < frameSize && start+i < outLen; i++ {
			acc[start+i] += real(frame[i]) * window[i]
			norm[start+i] += window[i] * window[i]
		}
	}

	out := make([]float32, outLen)
	for i := range out {
		if norm[i] > epsilon {
			out[i] = float32(acc[i] / norm[i])
		}
	}
	return out
}

// medianFilterTime filters each frequency bin across frames.
func medianFilterTime(mags [][]float64, kernel int) [][]float64 {
	frames := len(mags)
	bins := len(mags[0])
	out := make([][]float64, frames)
	for f := range out {
		out[f] = make([]float64, bins)
	}
	column := make([]float64, frames)
	for b := 0; b < bins; b++ {
		for f := 0; f < frames; f++ {
			column[f] = mags[f][b]
		}
		filtered := medianFilter1D(column, kernel)
		for f := 0; f < frames; f++ {
			out[f][b] = filtered[f]
		}
	}
	return out
}

// medianFilterFreq filters each frame across frequency bins.
func medianFilterFreq(mags [][]float64, kernel int) [][]float64 {
	out := make([][]float64, len(mags))
	for f, row := range mags {
		out[f] = medianFilter1D(row, kernel)
	}
	return out
}

func medianFilter1D(input []float64, kernel int) []float64 {
	half := kernel / 2
	out := make([]float64, len(input))
	buf := make([]float64, 0, kernel)
	for i := range input {
		lo := max(0, i-half)
		hi := min(len(input), i+half+1)
		buf = append(buf[:0], input[lo:hi]...)
		sort.Float64s(buf)
		mid := len(buf) / 2
		if len(buf)%2 == 1 {
			out[i] = buf[mid]
		} else {
			out[i] = (buf[mid-1] + buf[mid]) / 2
		}
	}
	return out
}
