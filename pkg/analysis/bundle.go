// Package analysis orchestrates audio feature extraction: level and backend
// selection, the worker pool, shared-subresult reuse and the cache path.
package analysis

// Level selects how much of the feature surface is computed. Each level is
// a superset of the previous one.
type Level string

const (
	LevelBasic        Level = "basic"
	LevelStandard     Level = "standard"
	LevelDetailed     Level = "detailed"
	LevelProfessional Level = "professional"
)

var levelOrder = map[Level]int{
	LevelBasic:        0,
	LevelStandard:     1,
	LevelDetailed:     2,
	LevelProfessional: 3,
}

// Valid reports whether l names a known level.
func (l Level) Valid() bool {
	_, ok := levelOrder[l]
	return ok
}

// AtLeast reports whether l includes the features of other.
func (l Level) AtLeast(other Level) bool {
	return levelOrder[l] >= levelOrder[other]
}

// ExtractorVersion participates in cache keys; bump when feature semantics
// change so stale cached bundles are not reused.
const ExtractorVersion = "2"

// LoudnessInfo carries the EBU R128 measurement of one file.
type LoudnessInfo struct {
	IntegratedLUFS    float64   `json:"integrated_lufs"`
	RangeLU           float64   `json:"range_lu"`
	ShortTermLUFS     []float64 `json:"short_term_lufs,omitempty"`
	MomentaryLUFS     []float64 `json:"momentary_lufs,omitempty"`
	TruePeakDB        float64   `json:"true_peak_db"`
	DynamicComplexity float64   `json:"dynamic_complexity"`
}

// FeatureBundle is one analysis result. Zero-length audio produces an empty
// bundle with only SampleRate set.
type FeatureBundle struct {
	// identity
	SourcePath string `json:"source_path,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels,omitempty"`
	DurationS  float64 `json:"duration_s"`

	// rhythm
	TempoBPM        float64   `json:"tempo_bpm,omitempty"`
	TempoConfidence float64   `json:"tempo_confidence,omitempty"`
	Beats           []float64 `json:"beats,omitempty"`
	OnsetTimes      []float64 `json:"onset_times,omitempty"`
	Danceability    float64   `json:"danceability,omitempty"`

	// tonal
	Key                    string    `json:"key,omitempty"`
	Mode                   string    `json:"mode,omitempty"`
	KeyConfidence          float64   `json:"key_confidence,omitempty"`
	PitchClassDistribution []float64 `json:"pitch_class_distribution,omitempty"` // 12
	Chroma                 [][]float64 `json:"chroma,omitempty"`                 // T x 12
	HarmonicRatio          float64   `json:"harmonic_ratio,omitempty"`

	// spectral, per frame
	SpectralCentroid  []float64 `json:"spectral_centroid,omitempty"`
	SpectralRolloff   []float64 `json:"spectral_rolloff,omitempty"`
	SpectralBandwidth []float64 `json:"spectral_bandwidth,omitempty"`
	SpectralFlatness  []float64 `json:"spectral_flatness,omitempty"`
	SpectralFlux      []float64 `json:"spectral_flux,omitempty"`
	ZeroCrossingRate  []float64 `json:"zero_crossing_rate,omitempty"`
	RMS               []float64 `json:"rms,omitempty"`

	// timbre
	MFCC        [][]float64 `json:"mfcc,omitempty"`        // T x 13
	MFCCDeltas  [][]float64 `json:"mfcc_deltas,omitempty"` // T x 13
	SpectralComplexity float64 `json:"spectral_complexity,omitempty"`

	// loudness
	Loudness *LoudnessInfo `json:"loudness,omitempty"`

	// optional separated components, Detailed and above
	Harmonic   []float32 `json:"harmonic,omitempty"`
	Percussive []float32 `json:"percussive,omitempty"`

	// provenance
	BackendTag    string  `json:"backend_tag"`
	Level         Level   `json:"level"`
	AnalysisTimeS float64 `json:"analysis_time_s"`
	UsedFallback  bool    `json:"used_fallback,omitempty"`
}

// Key is a feature-cache address: the content fingerprint of the audio plus
// the fingerprint of the analysis parameters that produced the bundle.
type Key struct {
	ContentFingerprint string
	ParamsFingerprint  string
}

// FeatureCache is the engine's view of the persistent feature store.
// Implemented by pkg/featurecache.
type FeatureCache interface {
	Get(key Key) (*FeatureBundle, bool)
	Put(key Key, bundle *FeatureBundle, sourcePath string) error
}
