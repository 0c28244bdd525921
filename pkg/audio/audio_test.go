package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

func writeSineWAV(t *testing.T, path string, seconds, rate, channels int) {
	t.Helper()
	n := seconds * rate * channels
	samples := make([]float32, n)
	for i := 0; i < n; i += channels {
		v := float32(0.5 * math.Sin(2*math.Pi*440*float64(i/channels)/float64(rate)))
		for c := 0; c < channels; c++ {
			samples[i+c] = v
		}
	}
	require.NoError(t, WriteWAV(path, &Buffer{Samples: samples, SampleRate: rate, Channels: channels}))
}

func TestWAVRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeSineWAV(t, path, 1, 44100, 1)

	buf, err := decodeWAV(path)
	require.NoError(t, err)
	assert.Equal(t, 44100, buf.SampleRate)
	assert.Equal(t, 1, buf.Channels)
	assert.Len(t, buf.Samples, 44100)
	assert.InDelta(t, 1.0, buf.Duration(), 1e-6)
}

func TestLoadAppliesPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	writeSineWAV(t, path, 2, 22050, 2)

	buf, err := Load(path, Options{TargetRate: 44100, Mono: true, Normalize: true})
	require.NoError(t, err)
	// stereo downmixed, 22050 upsampled to 44100
	assert.Equal(t, 44100, buf.SampleRate)
	assert.Len(t, buf.Samples, 2*44100)

	var peak float64
	for _, s := range buf.Samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	assert.InDelta(t, 0.95, peak, 0.01)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load("clip.xyz", DefaultOptions())
	require.Error(t, err)
	assert.Equal(t, smerrors.KindInvalidInput, smerrors.KindOf(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.wav"), DefaultOptions())
	assert.Error(t, err)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	require.NoError(t, os.WriteFile(path, []byte("this is not a riff container at all"), 0o644))

	_, err := decodeWAV(path)
	require.Error(t, err)
	assert.Equal(t, smerrors.KindInvalidInput, smerrors.KindOf(err))
}

func TestDecodeWAVTruncatedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.wav")
	writeSineWAV(t, path, 1, 8000, 1)

	whole, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, whole[:len(whole)/2], 0o644))

	_, err = decodeWAV(path)
	require.Error(t, err)
	assert.Equal(t, smerrors.KindCorrupt, smerrors.KindOf(err))
}

func TestPrepareKeepsShortBuffers(t *testing.T) {
	raw := &Buffer{Samples: []float32{0.1, 0.2}, SampleRate: 44100, Channels: 1}
	out := prepare(raw, DefaultOptions())
	assert.Len(t, out.Samples, 2)
}
