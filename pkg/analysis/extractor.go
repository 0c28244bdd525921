package analysis

import (
	"math"
	"sync/atomic"

	"github.com/samplemind/samplemind-core/pkg/audio"
	"github.com/samplemind/samplemind-core/pkg/dsp"
)

// Krumhansl-Schmuckler key profiles.
var (
	majorProfile = []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	minorProfile = []float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
	keyNames     = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
)

// extractor computes feature bundles from prepared mono buffers. The frame
// geometry differentiates the fast and reference backends.
type extractor struct {
	frameSize int
	hop       int

	hpssRuns atomic.Int64 // separations computed, for stats and invariant checks
}

// extract computes the bundle for one buffer at the given level. HPSS is
// computed at most once per call: the tonal and rhythm stages share the
// result through the hpss local.
func (e *extractor) extract(buf *audio.Buffer, level Level) *FeatureBundle {
	bundle := &FeatureBundle{
		SampleRate: buf.SampleRate,
		Channels:   buf.Channels,
		DurationS:  buf.Duration(),
		Level:      level,
	}
	if len(buf.Samples) == 0 {
		return bundle
	}

	spec := dsp.STFT(buf.Samples, e.frameSize, e.hop)

	e.extractBasic(bundle, buf, spec)
	if !level.AtLeast(LevelStandard) {
		return bundle
	}

	var hpss *dsp.HPSSResult
	e.extractSpectral(bundle, spec)
	e.extractRhythm(bundle, buf, spec)
	bundle.MFCC = dsp.MFCC(spec, e.frameSize, buf.SampleRate)
	hpss = e.extractTonal(bundle, buf, hpss)

	if !level.AtLeast(LevelDetailed) {
		return bundle
	}

	// separated components are exposed from Detailed up, reusing the one
	// separation the tonal stage produced
	if hpss != nil {
		bundle.Harmonic = hpss.Harmonic
		bundle.Percussive = hpss.Percussive
	}

	if !level.AtLeast(LevelProfessional) {
		return bundle
	}

	e.extractTimbre(bundle, spec)
	e.extractLoudness(bundle, buf)
	return bundle
}

// extractBasic fills the fields every level carries.
func (e *extractor) extractBasic(bundle *FeatureBundle, buf *audio.Buffer, spec [][]float64) {
	frames := dsp.Frames(buf.Samples, e.frameSize, e.hop)
	if frames == nil {
		// shorter than one frame: single-frame statistics over the whole buffer
		bundle.RMS = []float64{dsp.RMS(buf.Samples)}
		bundle.ZeroCrossingRate = []float64{dsp.ZeroCrossingRate(buf.Samples)}
		return
	}
	bundle.RMS = make([]float64, len(frames))
	bundle.ZeroCrossingRate = make([]float64, len(frames))
	for i, frame := range frames {
		bundle.RMS[i] = dsp.RMS(frame)
		bundle.ZeroCrossingRate[i] = dsp.ZeroCrossingRate(frame)
	}
}

func (e *extractor) extractSpectral(bundle *FeatureBundle, spec [][]float64) {
	bundle.SpectralCentroid = make([]float64, len(spec))
	bundle.SpectralRolloff = make([]float64, len(spec))
	bundle.SpectralBandwidth = make([]float64, len(spec))
	bundle.SpectralFlatness = make([]float64, len(spec))
	bundle.SpectralFlux = make([]float64, len(spec))
	for i, mags := range spec {
		bundle.SpectralCentroid[i] = dsp.SpectralCentroid(mags, e.frameSize, bundle.SampleRate)
		bundle.SpectralRolloff[i] = dsp.SpectralRolloff(mags, e.frameSize, bundle.SampleRate, 0.85)
		bundle.SpectralBandwidth[i] = dsp.SpectralBandwidth(mags, e.frameSize, bundle.SampleRate)
		bundle.SpectralFlatness[i] = dsp.SpectralFlatness(mags)
		if i > 0 {
			bundle.SpectralFlux[i] = dsp.SpectralFlux(spec[i-1], mags)
		}
	}
}

func (e *extractor) extractRhythm(bundle *FeatureBundle, buf *audio.Buffer, spec [][]float64) {
	envelope := dsp.OnsetEnvelope(spec)
	if envelope == nil {
		return
	}
	bpm, confidence := dsp.EstimateTempo(envelope, e.hop, buf.SampleRate)
	bundle.TempoBPM = bpm
	bundle.TempoConfidence = confidence

	onsets := dsp.PickOnsets(envelope, 0.5)
	bundle.OnsetTimes = make([]float64, len(onsets))
	for i, frame := range onsets {
		bundle.OnsetTimes[i] = float64(frame) * float64(e.hop) / float64(buf.SampleRate)
	}
	bundle.Beats = dsp.BeatTimes(bpm, onsets, e.hop, buf.SampleRate, buf.Duration())
	bundle.Danceability = dsp.Danceability(onsets, e.hop, buf.SampleRate)
}

// extractTonal computes key, mode and chroma on the harmonic component.
// When hpss is nil it computes the separation and returns it for reuse;
// a precomputed result is used as-is.
func (e *extractor) extractTonal(bundle *FeatureBundle, buf *audio.Buffer, hpss *dsp.HPSSResult) *dsp.HPSSResult {
	if hpss == nil {
		hpss = dsp.HPSS(buf.Samples, e.frameSize, e.hop, buf.SampleRate)
		e.hpssRuns.Add(1)
	}

	source := hpss.HarmonicSpec
	if len(source) == 0 {
		// separation produced nothing usable, fall back to the raw spectrum
		source = dsp.STFT(buf.Samples, e.frameSize, e.hop)
		if len(source) == 0 {
			return hpss
		}
	}

	chroma := dsp.Chroma(source, e.frameSize, buf.SampleRate)
	bundle.Chroma = chroma
	mean := dsp.MeanChroma(chroma)
	bundle.PitchClassDistribution = mean
	bundle.HarmonicRatio = hpss.HarmonicRatio

	key, mode, confidence := estimateKey(mean)
	bundle.Key = key
	bundle.Mode = mode
	bundle.KeyConfidence = confidence
	return hpss
}

// estimateKey correlates the mean chroma against the 24 rotated
// Krumhansl-Schmuckler profiles and picks the best Pearson correlation.
func estimateKey(meanChroma []float64) (key, mode string, confidence float64) {
	if len(meanChroma) != 12 {
		return "", "", 0
	}
	best := math.Inf(-1)
	for root := 0; root < 12; root++ {
		rotated := rotate(meanChroma, root)
		if c := dsp.PearsonCorrelation(rotated, majorProfile); c > best {
			best, key, mode = c, keyNames[root], "major"
		}
		if c := dsp.PearsonCorrelation(rotated, minorProfile); c > best {
			best, key, mode = c, keyNames[root], "minor"
		}
	}
	if math.IsInf(best, -1) {
		return "", "", 0
	}
	return key, mode, math.Max(0, best)
}

// rotate shifts chroma so index 0 is the candidate root.
func rotate(chroma []float64, root int) []float64 {
	out := make([]float64, 12)
	for i := range out {
		out[i] = chroma[(i+root)%12]
	}
	return out
}

func (e *extractor) extractTimbre(bundle *FeatureBundle, spec [][]float64) {
	if bundle.MFCC != nil {
		bundle.MFCCDeltas = dsp.Deltas(bundle.MFCC)
	}
	// spectral complexity: mean count of prominent spectral peaks per frame
	var total float64
	for _, mags := range spec {
		total += float64(countPeaks(mags))
	}
	if len(spec) > 0 {
		bundle.SpectralComplexity = total / float64(len(spec))
	}
}

func countPeaks(mags []float64) int {
	var sum float64
	for _, m := range mags {
		sum += m
	}
	if len(mags) == 0 {
		return 0
	}
	threshold := 2 * sum / float64(len(mags))
	count := 0
	for i := 1; i < len(mags)-1; i++ {
		if mags[i] > threshold && mags[i] > mags[i-1] && mags[i] >= mags[i+1] {
			count++
		}
	}
	return count
}

func (e *extractor) extractLoudness(bundle *FeatureBundle, buf *audio.Buffer) {
	l := dsp.MeasureLoudness(buf.Samples, buf.SampleRate)
	bundle.Loudness = &LoudnessInfo{
		IntegratedLUFS:    l.Integrated,
		RangeLU:           l.Range,
		ShortTermLUFS:     l.ShortTerm,
		MomentaryLUFS:     l.Momentary,
		TruePeakDB:        l.TruePeak,
		DynamicComplexity: dsp.DynamicComplexity(l.Momentary),
	}
}
