package dsp

import (
	"math"
	"sort"
)

// Loudness follows the EBU R128 measurement model: K-weighted power over
// 400 ms momentary and 3 s short-term blocks, absolute gating at -70 LUFS
// and relative gating at -10 LU, loudness range from the 10th-95th
// percentile of gated short-term values.
type Loudness struct {
	Integrated float64   // LUFS
	Range      float64   // LU
	ShortTerm  []float64 // LUFS per 3s block, 1s step
	Momentary  []float64 // LUFS per 400ms block, 100ms step
	TruePeak   float64   // dBFS estimate
}

const silenceFloor = -70.0

// MeasureLoudness computes the loudness of a mono signal.
func MeasureLoudness(samples []float32, sampleRate int) *Loudness {
	if len(samples) == 0 || sampleRate <= 0 {
		return &Loudness{Integrated: silenceFloor, TruePeak: silenceFloor}
	}

	weighted := kWeight(samples, sampleRate)

	momentary := blockLoudness(weighted, sampleRate, 0.4, 0.1)
	shortTerm := blockLoudness(weighted, sampleRate, 3.0, 1.0)
	if len(shortTerm) == 0 {
		// clips shorter than 3s: fall back to one block covering the signal
		shortTerm = blockLoudness(weighted, sampleRate, float64(len(samples))/float64(sampleRate), 1.0)
	}

	integrated := gatedIntegrated(momentary)

	return &Loudness{
		Integrated: integrated,
		Range:      loudnessRange(shortTerm, integrated),
		ShortTerm:  shortTerm,
		Momentary:  momentary,
		TruePeak:   truePeak(samples),
	}
}

// kWeight approximates the R128 K-weighting: a high-shelf boost near 1.68k
// and the revised low-cut.
func kWeight(samples []float32, sampleRate int) []float32 {
	highpassed := HighPassFilter(38, sampleRate, samples)
	return highShelf(1681, 4.0, sampleRate, highpassed)
}

func highShelf(cutoff, gainDB float64, sampleRate int, samples []float32) []float32 {
	a := math.Pow(10, gainDB/40)
	omega := 2 * math.Pi * cutoff / float64(sampleRate)
	cosw := math.Cos(omega)
	sinw := math.Sin(omega)
	alpha := sinw / 2 * math.Sqrt2

	b0 := a * ((a + 1) + (a-1)*cosw + alpha)
	b1 := -2 * a * ((a - 1) + (a+1)*cosw)
	b2 := a * ((a + 1) + (a-1)*cosw - alpha)
	a0 := (a + 1) - (a-1)*cosw + alpha
	a1 := 2 * ((a - 1) - (a+1)*cosw)
	a2 := (a + 1) - (a-1)*cosw - alpha

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

// blockLoudness returns LUFS per block of blockDur seconds stepped stepDur.
func blockLoudness(samples []float32, sampleRate int, blockDur, stepDur float64) []float64 {
	blockLen := int(blockDur * float64(sampleRate))
	step := int(stepDur * float64(sampleRate))
	if blockLen <= 0 || step <= 0 || len(samples) < blockLen {
		return nil
	}

	var out []float64
	for start := 0; start+blockLen <= len(samples); start += step {
		var power float64
		for _, s := range samples[start : start+blockLen] {
			power += float64(s) * float64(s)
		}
		power /= float64(blockLen)
		out = append(out, powerToLUFS(power))
	}
	return out
}

func powerToLUFS(power float64) float64 {
	if power < epsilon {
		return silenceFloor
	}
	return -0.691 + 10*math.Log10(power)
}

// gatedIntegrated applies absolute then relative gating to momentary blocks.
func gatedIntegrated(momentary []float64) float64 {
	gated := filterAbove(momentary, silenceFloor)
	if len(gated) == 0 {
		return silenceFloor
	}
	ungatedMean := meanPower(gated)
	relativeGate := powerToLUFS(ungatedMean) - 10

	gated = filterAbove(gated, relativeGate)
	if len(gated) == 0 {
		return silenceFloor
	}
	return powerToLUFS(meanPower(gated))
}

func filterAbove(blocks []float64, gate float64) []float64 {
	out := blocks[:0:0]
	for _, l := range blocks {
		if l > gate {
			out = append(out, l)
		}
	}
	return out
}

func meanPower(lufs []float64) float64 {
	var sum float64
	for _, l := range lufs {
		sum += math.Pow(10, (l+0.691)/10)
	}
	return sum / float64(len(lufs))
}

func loudnessRange(shortTerm []float64, integrated float64) float64 {
	gated := filterAbove(shortTerm, silenceFloor)
	gated = filterAbove(gated, integrated-20)
	if len(gated) < 2 {
		return 0
	}
	sorted := append([]float64(nil), gated...)
	sort.Float64s(sorted)
	lo := sorted[int(0.10*float64(len(sorted)-1))]
	hi := sorted[int(0.95*float64(len(sorted)-1))]
	return hi - lo
}

// truePeak estimates the true peak via 4x linear oversampling.
func truePeak(samples []float32) float64 {
	var peak float64
	for i := 0; i < len(samples); i++ {
		a := float64(samples[i])
		if v := math.Abs(a); v > peak {
			peak = v
		}
		if i+1 < len(samples) {
			b := float64(samples[i+1])
			for _, frac := range [3]float64{0.25, 0.5, 0.75} {
				if v := math.Abs(a + (b-a)*frac); v > peak {
					peak = v
				}
			}
		}
	}
	if peak < epsilon {
		return silenceFloor
	}
	return 20 * math.Log10(peak)
}

// DynamicComplexity measures average absolute deviation of momentary
// loudness from its mean, in LU.
func DynamicComplexity(momentary []float64) float64 {
	audible := filterAbove(momentary, silenceFloor)
	if len(audible) == 0 {
		return 0
	}
	mean := meanOf(audible)
	var dev float64
	for _, l := range audible {
		dev += math.Abs(l - mean)
	}
	return dev / float64(len(audible))
}
