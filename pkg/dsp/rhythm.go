package dsp

import "math"

// OnsetEnvelope computes the spectral-flux onset strength of a magnitude
// spectrogram, one value per frame.
func OnsetEnvelope(spectrogram [][]float64) []float64 {
	if len(spectrogram) < 2 {
		return nil
	}
	env := make([]float64, len(spectrogram))
	for f := 1; f < len(spectrogram); f++ {
		env[f] = SpectralFlux(spectrogram[f-1], spectrogram[f])
	}
	return env
}

// EstimateTempo returns the dominant tempo in BPM from an onset envelope by
// autocorrelation over the 40–220 BPM lag range, plus a confidence in [0,1]
// from the normalized autocorrelation peak.
func EstimateTempo(envelope []float64, hop, sampleRate int) (bpm, confidence float64) {
	if len(envelope) < 4 {
		return 0, 0
	}
	framesPerSecond := float64(sampleRate) / float64(hop)
	minLag := int(framesPerSecond * 60 / 220)
	maxLag := int(framesPerSecond * 60 / 40)
	if maxLag >= len(envelope) {
		maxLag = len(envelope) - 1
	}
	if minLag < 1 || minLag >= maxLag {
		return 0, 0
	}

	mean := meanOf(envelope)
	var norm float64
	for _, v := range envelope {
		d := v - mean
		norm += d * d
	}
	if norm < epsilon {
		return 0, 0
	}

	bestLag, bestCorr := 0, 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := lag; i < len(envelope); i++ {
			corr += (envelope[i] - mean) * (envelope[i-lag] - mean)
		}
		corr /= norm
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0, 0
	}
	bpm = 60 * framesPerSecond / float64(bestLag)
	confidence = math.Min(1, math.Max(0, bestCorr))
	return bpm, confidence
}

// PickOnsets returns frame indices whose onset strength exceeds the local
// mean by delta and is a local maximum.
func PickOnsets(envelope []float64, delta float64) []int {
	mean := meanOf(envelope)
	threshold := mean * (1 + delta)

	var peaks []int
	for i := 1; i < len(envelope)-1; i++ {
		v := envelope[i]
		if v > threshold && v >= envelope[i-1] && v > envelope[i+1] {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// BeatTimes converts a tempo and onset peaks into beat timestamps by
// snapping a fixed beat grid to the strongest onset phase.
func BeatTimes(bpm float64, onsets []int, hop, sampleRate int, duration float64) []float64 {
	if bpm <= 0 || duration <= 0 {
		return nil
	}
	period := 60 / bpm
	phase := 0.0
	if len(onsets) > 0 {
		first := float64(onsets[0]) * float64(hop) / float64(sampleRate)
		phase = math.Mod(first, period)
	}

	var beats []float64
	for t := phase; t < duration; t += period {
		beats = append(beats, t)
	}
	return beats
}

// Danceability scores beat-interval regularity in [0,1]: 1 when onset
// intervals are perfectly even, approaching 0 as they spread.
func Danceability(onsets []int, hop, sampleRate int) float64 {
	if len(onsets) < 3 {
		return 0
	}
	intervals := make([]float64, len(onsets)-1)
	for i := 1; i < len(onsets); i++ {
		intervals[i-1] = float64(onsets[i]-onsets[i-1]) * float64(hop) / float64(sampleRate)
	}
	mean := meanOf(intervals)
	if mean < epsilon {
		return 0
	}
	var varsum float64
	for _, v := range intervals {
		d := v - mean
		varsum += d * d
	}
	cv := math.Sqrt(varsum/float64(len(intervals))) / mean
	return 1 / (1 + cv)
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
