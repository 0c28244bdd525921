// Package featurecache is the content-addressed disk store for analysis
// results. Entries are zstd-compressed JSON envelopes written atomically;
// corrupt entries read as misses and are removed.
package featurecache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/samplemind/samplemind-core/pkg/analysis"
	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

const (
	schemaVersion = 2
	fileSuffix    = ".fc.zst"
)

// envelope wraps a stored bundle with the metadata needed to validate it.
type envelope struct {
	Version     int                     `json:"version"`
	CreatedAt   time.Time               `json:"created_at"`
	SourcePath  string                  `json:"source_path,omitempty"`
	SourceMtime time.Time               `json:"source_mtime,omitempty"`
	Bundle      *analysis.FeatureBundle `json:"bundle"`
}

// Stats reports cache activity since construction.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Writes        int64 `json:"writes"`
	Invalidations int64 `json:"invalidations"`
	Entries       int64 `json:"entries"`
	Bytes         int64 `json:"bytes"`
}

// Cache is the disk feature store. Safe for concurrent use; readers of
// distinct keys do not contend.
type Cache struct {
	root    string
	logger  *logging.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mutex sync.Mutex
	stats Stats

	// source path -> keys stored from it, for watcher invalidation
	pathIndex map[string][]analysis.Key
	indexMu   sync.Mutex

	watcher *watcher
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string, logger *logging.Logger) (*Cache, error) {
	if dir == "" {
		return nil, smerrors.New(smerrors.KindInvalidInput, "featurecache", "cache directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Cache{
		root:      dir,
		logger:    logger.WithComponent("featurecache"),
		encoder:   encoder,
		decoder:   decoder,
		pathIndex: make(map[string][]analysis.Key),
	}, nil
}

// entryPath shards by the first two fingerprint characters.
func (c *Cache) entryPath(key analysis.Key) string {
	shard := "00"
	if len(key.ContentFingerprint) >= 2 {
		shard = key.ContentFingerprint[:2]
	}
	name := key.ContentFingerprint + "-" + key.ParamsFingerprint + fileSuffix
	return filepath.Join(c.root, shard, name)
}

// Get returns the stored bundle for key. Missing files are a plain miss;
// unreadable or stale-schema files are removed and reported as a miss with
// a warning.
func (c *Cache) Get(key analysis.Key) (*analysis.FeatureBundle, bool) {
	path := c.entryPath(key)
	compressed, err := os.ReadFile(path)
	if err != nil {
		c.bump(func(s *Stats) { s.Misses++ })
		return nil, false
	}

	raw, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		c.discardCorrupt(path, err)
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.discardCorrupt(path, err)
		return nil, false
	}
	if env.Version != schemaVersion || env.Bundle == nil {
		c.discardCorrupt(path, fmt.Errorf("schema version %d, want %d", env.Version, schemaVersion))
		return nil, false
	}

	c.bump(func(s *Stats) { s.Hits++ })
	return env.Bundle, true
}

// Put persists bundle under key. The write lands in a temp file in the
// entry's directory and is renamed into place, so concurrent readers see
// either the old or the new entry, never a partial one. Duplicate writes
// are idempotent.
func (c *Cache) Put(key analysis.Key, bundle *analysis.FeatureBundle, sourcePath string) error {
	if bundle == nil {
		return smerrors.New(smerrors.KindInvalidInput, "featurecache", "nil bundle")
	}

	env := envelope{
		Version:    schemaVersion,
		CreatedAt:  time.Now().UTC(),
		SourcePath: sourcePath,
		Bundle:     bundle,
	}
	if sourcePath != "" {
		if info, err := os.Stat(sourcePath); err == nil {
			env.SourceMtime = info.ModTime()
		}
	}

	raw, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	compressed := c.encoder.EncodeAll(raw, nil)

	path := c.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing entry: %w", err)
	}

	c.bump(func(s *Stats) { s.Writes++ })
	if sourcePath != "" {
		c.indexMu.Lock()
		c.pathIndex[sourcePath] = append(c.pathIndex[sourcePath], key)
		c.indexMu.Unlock()
		if c.watcher != nil {
			c.watcher.track(sourcePath)
		}
	}
	return nil
}

// Invalidate removes the entry for key if present.
func (c *Cache) Invalidate(key analysis.Key) {
	if err := os.Remove(c.entryPath(key)); err == nil {
		c.bump(func(s *Stats) { s.Invalidations++ })
	}
}

// InvalidateSource removes every entry recorded for a source file. Called
// by the watcher when the file changes on disk.
func (c *Cache) InvalidateSource(sourcePath string) int {
	c.indexMu.Lock()
	keys := c.pathIndex[sourcePath]
	delete(c.pathIndex, sourcePath)
	c.indexMu.Unlock()

	for _, key := range keys {
		c.Invalidate(key)
	}
	if len(keys) > 0 {
		c.logger.Info("invalidated cached features for changed source",
			"path", sourcePath, "entries", len(keys))
	}
	return len(keys)
}

// Clear removes all entries.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("listing cache root: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(c.root, entry.Name())); err != nil {
			return fmt.Errorf("removing %s: %w", entry.Name(), err)
		}
	}
	c.indexMu.Lock()
	c.pathIndex = make(map[string][]analysis.Key)
	c.indexMu.Unlock()
	return nil
}

// Stats walks the store to report entry count and bytes alongside the
// activity counters.
func (c *Cache) Stats() Stats {
	c.mutex.Lock()
	out := c.stats
	c.mutex.Unlock()

	filepath.WalkDir(c.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".zst" {
			out.Entries++
			if info, err := d.Info(); err == nil {
				out.Bytes += info.Size()
			}
		}
		return nil
	})
	return out
}

// Close stops the watcher and releases the compressors.
func (c *Cache) Close() error {
	if c.watcher != nil {
		c.watcher.stop()
	}
	c.encoder.Close()
	c.decoder.Close()
	return nil
}

func (c *Cache) discardCorrupt(path string, cause error) {
	c.logger.Warn("removing corrupt cache entry", "path", path, "error", cause)
	os.Remove(path)
	c.bump(func(s *Stats) {
		s.Misses++
		s.Invalidations++
	})
}

func (c *Cache) bump(fn func(*Stats)) {
	c.mutex.Lock()
	fn(&c.stats)
	c.mutex.Unlock()
}
