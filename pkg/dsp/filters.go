package dsp

import "math"

// LowPassFilter applies a first-order RC low-pass at cutoff Hz.
func LowPassFilter(cutoff float64, sampleRate int, samples []float32) []float32 {
	rc := 1.0 / (2 * math.Pi * cutoff)
	dt := 1.0 / float64(sampleRate)
	alpha := dt / (rc + dt)

	out := make([]float32, len(samples))
	var prev float64
	for i, s := range samples {
		prev = prev + alpha*(float64(s)-prev)
		out[i] = float32(prev)
	}
	return out
}

// HighPassFilter applies a second-order Butterworth high-pass biquad at
// cutoff Hz. Used at 80 Hz to remove rumble before analysis.
func HighPassFilter(cutoff float64, sampleRate int, samples []float32) []float32 {
	omega := 2 * math.Pi * cutoff / float64(sampleRate)
	cosw := math.Cos(omega)
	sinw := math.Sin(omega)
	q := math.Sqrt2 / 2 // Butterworth
	alpha := sinw / (2 * q)

	b0 := (1 + cosw) / 2
	b1 := -(1 + cosw)
	b2 := (1 + cosw) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw
	a2 := 1 - alpha

	b0, b1, b2 = b0/a0, b1/a0, b2/a0
	a1, a2 = a1/a0, a2/a0

	out := make([]float32, len(samples))
	var x1, x2, y1, y2 float64
	for i, s := range samples {
		x := float64(s)
		y := b0*x + b1*x1 + b2*x2 - a1*y1 - a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		out[i] = float32(y)
	}
	return out
}

// Downsample reduces the sample rate by averaging blocks of
// original/target samples. original must be a multiple-friendly ratio;
// trailing remainder samples are averaged into the final block.
func Downsample(samples []float32, originalRate, targetRate int) []float32 {
	if targetRate <= 0 || originalRate <= 0 || originalRate%targetRate != 0 {
		return nil
	}
	ratio := originalRate / targetRate
	out := make([]float32, 0, len(samples)/ratio+1)
	for i := 0; i < len(samples); i += ratio {
		end := min(i+ratio, len(samples))
		var sum float64
		for _, s := range samples[i:end] {
			sum += float64(s)
		}
		out = append(out, float32(sum/float64(end-i)))
	}
	return out
}

// Resample converts samples to targetRate by linear interpolation. Adequate
// for analysis use; upstream decoding already band-limits the signal.
func Resample(samples []float32, originalRate, targetRate int) []float32 {
	if originalRate == targetRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(originalRate) / float64(targetRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen == 0 {
		return nil
	}
	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		if idx+1 < len(samples) {
			out[i] = float32(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// Normalize scales samples so the peak magnitude is headroom (e.g. 0.95).
// A silent buffer is returned unchanged.
func Normalize(samples []float32, headroom float64) []float32 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak < epsilon {
		return samples
	}
	gain := headroom / peak
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) * gain)
	}
	return out
}

// DownmixMono averages interleaved multi-channel samples into mono.
func DownmixMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(interleaved[i*channels+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}
