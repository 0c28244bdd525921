package featurecache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samplemind/samplemind-core/pkg/analysis"
)

func testKey(content string) analysis.Key {
	return analysis.Key{
		ContentFingerprint: strings.Repeat(content, 64/len(content)),
		ParamsFingerprint:  strings.Repeat("p", 64),
	}
}

func testBundle() *analysis.FeatureBundle {
	return &analysis.FeatureBundle{
		SampleRate: 44100,
		DurationS:  2.5,
		TempoBPM:   120,
		Key:        "A",
		Mode:       "minor",
		RMS:        []float64{0.1, 0.2, 0.3},
		Level:      analysis.LevelStandard,
		BackendTag: "fast",
	}
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGetRoundtrip(t *testing.T) {
	c := newTestCache(t)
	key := testKey("a")

	require.NoError(t, c.Put(key, testBundle(), ""))
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 120.0, got.TempoBPM)
	assert.Equal(t, "A", got.Key)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.RMS)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Writes)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Greater(t, stats.Bytes, int64(0))
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get(testKey("b"))
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestPutIdempotent(t *testing.T) {
	c := newTestCache(t)
	key := testKey("c")

	require.NoError(t, c.Put(key, testBundle(), ""))
	require.NoError(t, c.Put(key, testBundle(), ""))

	assert.Equal(t, int64(1), c.Stats().Entries)
}

func TestCorruptEntryIsMissAndRemoved(t *testing.T) {
	c := newTestCache(t)
	key := testKey("d")
	require.NoError(t, c.Put(key, testBundle(), ""))

	path := c.entryPath(key)
	require.NoError(t, os.WriteFile(path, []byte("not zstd at all"), 0o644))

	_, ok := c.Get(key)
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "corrupt entry should be removed")
	assert.Equal(t, int64(1), c.Stats().Invalidations)
}

func TestSchemaVersionMismatchIsMiss(t *testing.T) {
	c := newTestCache(t)
	key := testKey("e")
	require.NoError(t, c.Put(key, testBundle(), ""))

	// rewrite with an old schema version
	raw := []byte(`{"version":1,"bundle":{"sample_rate":44100}}`)
	compressed := c.encoder.EncodeAll(raw, nil)
	require.NoError(t, os.WriteFile(c.entryPath(key), compressed, 0o644))

	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestInvalidateAndClear(t *testing.T) {
	c := newTestCache(t)
	k1, k2 := testKey("f"), testKey("ab")
	require.NoError(t, c.Put(k1, testBundle(), ""))
	require.NoError(t, c.Put(k2, testBundle(), ""))

	c.Invalidate(k1)
	_, ok := c.Get(k1)
	assert.False(t, ok)
	_, ok = c.Get(k2)
	assert.True(t, ok)

	require.NoError(t, c.Clear())
	assert.Equal(t, int64(0), c.Stats().Entries)
}

func TestInvalidateSource(t *testing.T) {
	c := newTestCache(t)
	src := filepath.Join(t.TempDir(), "sample.wav")
	require.NoError(t, os.WriteFile(src, []byte("fake"), 0o644))

	k1, k2 := testKey("1"), testKey("2")
	require.NoError(t, c.Put(k1, testBundle(), src))
	require.NoError(t, c.Put(k2, testBundle(), src))

	removed := c.InvalidateSource(src)
	assert.Equal(t, 2, removed)
	_, ok := c.Get(k1)
	assert.False(t, ok)
}

func TestWatcherInvalidatesOnChange(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.EnableWatcher())

	src := filepath.Join(t.TempDir(), "sample.wav")
	require.NoError(t, os.WriteFile(src, []byte("original"), 0o644))

	key := testKey("3")
	require.NoError(t, c.Put(key, testBundle(), src))
	_, ok := c.Get(key)
	require.True(t, ok)

	require.NoError(t, os.WriteFile(src, []byte("modified content"), 0o644))

	assert.Eventually(t, func() bool {
		_, ok := c.Get(key)
		return !ok
	}, 3*time.Second, 20*time.Millisecond, "entry should be invalidated after source change")
}

func TestNewRejectsEmptyDir(t *testing.T) {
	_, err := New("", nil)
	assert.Error(t, err)
}
