package vectorstore

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samplemind/samplemind-core/pkg/analysis"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// encodeVector renders an embedding in the pgvector literal form "[a,b,c]".
func encodeVector(embedding []float32) string {
	var b strings.Builder
	b.Grow(len(embedding)*10 + 2)
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// decodeVector parses the pgvector literal form back into float32s.
func decodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, smerrors.New(smerrors.KindCorrupt, "vectorstore", "malformed vector literal")
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []float32{}, nil
	}
	parts := strings.Split(body, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, smerrors.Wrap(err, smerrors.KindCorrupt, "vectorstore", "malformed vector element")
		}
		out[i] = float32(v)
	}
	return out, nil
}

func validateDim(embedding []float32, want int) error {
	if len(embedding) != want {
		return smerrors.Newf(smerrors.KindInvalidInput, "vectorstore",
			"embedding dimension %d, want %d", len(embedding), want)
	}
	return nil
}

// FeatureEmbedding projects a feature bundle into a fixed-dimension
// embedding. The projection is deterministic: identical bundles produce
// identical vectors. The base features are tiled across the target
// dimension with decaying weight and the result is L2-normalized.
func FeatureEmbedding(bundle *analysis.FeatureBundle, dim int) ([]float32, error) {
	if bundle == nil {
		return nil, smerrors.New(smerrors.KindInvalidInput, "vectorstore", "nil feature bundle")
	}
	if dim <= 0 {
		return nil, smerrors.Newf(smerrors.KindInvalidInput, "vectorstore", "invalid dimension %d", dim)
	}

	base := make([]float32, 0, 64)
	base = append(base,
		float32(bundle.TempoBPM)/250,
		float32(bundle.Danceability),
		float32(bundle.KeyConfidence),
		float32(bundle.HarmonicRatio),
		float32(seriesMean(bundle.SpectralCentroid))/20000,
		float32(seriesMean(bundle.SpectralRolloff))/20000,
		float32(seriesMean(bundle.SpectralBandwidth))/20000,
		float32(seriesMean(bundle.SpectralFlatness)),
		float32(seriesMean(bundle.ZeroCrossingRate)),
		float32(seriesMean(bundle.RMS)),
	)
	for _, v := range coefficientMeans(bundle.MFCC) {
		base = append(base, float32(v))
	}
	for _, v := range bundle.PitchClassDistribution {
		base = append(base, float32(v))
	}
	if bundle.Loudness != nil {
		base = append(base,
			float32(bundle.Loudness.IntegratedLUFS)/70,
			float32(bundle.Loudness.RangeLU)/70,
		)
	}
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		tile := i / len(base)
		out[i] = base[i%len(base)] / float32(tile+1)
	}

	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 1e-10 {
		for i := range out {
			out[i] = float32(float64(out[i]) / norm)
		}
	}
	return out, nil
}

func seriesMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// coefficientMeans averages a frames×coefficients matrix down to one
// value per coefficient.
func coefficientMeans(frames [][]float64) []float64 {
	if len(frames) == 0 {
		return nil
	}
	out := make([]float64, len(frames[0]))
	for _, frame := range frames {
		for i, v := range frame {
			if i < len(out) {
				out[i] += v
			}
		}
	}
	for i := range out {
		out[i] /= float64(len(frames))
	}
	return out
}

// partitionName returns the monthly partition identifier,
// e.g. audio_vectors_2026_08.
func partitionName(year int, month int) string {
	return fmt.Sprintf("audio_vectors_%04d_%02d", year, month)
}
