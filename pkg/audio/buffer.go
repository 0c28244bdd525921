// Package audio loads audio files into analysis buffers. WAV is decoded
// natively; other formats are converted through ffmpeg. The load pipeline
// downmixes to mono, resamples to the analysis rate, normalizes the peak
// and removes rumble below 80 Hz.
package audio

import "github.com/samplemind/samplemind-core/pkg/dsp"

// Buffer is a decoded signal ready for analysis.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int // channel count of the source, before downmix
}

// Duration returns the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Options controls the load pipeline.
type Options struct {
	TargetRate int  // resample target, 0 keeps the source rate
	Mono       bool // downmix interleaved channels
	Normalize  bool // peak normalize to 0.95
	HighPass   bool // 80 Hz rumble filter
}

// DefaultOptions is the standard analysis pipeline configuration.
func DefaultOptions() Options {
	return Options{TargetRate: 44100, Mono: true, Normalize: true, HighPass: true}
}

const (
	normalizeHeadroom = 0.95
	highPassCutoff    = 80
)

// prepare applies the option pipeline to a raw decoded buffer.
func prepare(raw *Buffer, opts Options) *Buffer {
	samples := raw.Samples
	rate := raw.SampleRate

	if opts.Mono && raw.Channels > 1 {
		samples = dsp.DownmixMono(samples, raw.Channels)
	}
	if opts.TargetRate > 0 && opts.TargetRate != rate {
		samples = dsp.Resample(samples, rate, opts.TargetRate)
		rate = opts.TargetRate
	}
	if opts.Normalize {
		samples = dsp.Normalize(samples, normalizeHeadroom)
	}
	if opts.HighPass && len(samples) > 0 {
		samples = dsp.HighPassFilter(highPassCutoff, rate, samples)
	}

	return &Buffer{Samples: samples, SampleRate: rate, Channels: raw.Channels}
}
