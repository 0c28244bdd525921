package analysis

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samplemind/samplemind-core/pkg/audio"
	"github.com/samplemind/samplemind-core/pkg/hasher"
	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/metrics"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// EngineConfig controls the analysis engine.
type EngineConfig struct {
	MaxWorkers       int           `json:"max_workers"`
	PreferredBackend BackendTag    `json:"preferred_backend"`
	EnableFallback   bool          `json:"enable_fallback"`
	HashPolicy       hasher.Policy `json:"hash_policy"`
	AudioOptions     audio.Options `json:"audio_options"`
}

// DefaultEngineConfig sizes the pool to the available CPUs and prefers the
// fast backend with fallback enabled.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxWorkers:       runtime.NumCPU(),
		PreferredBackend: BackendFast,
		EnableFallback:   true,
		HashPolicy:       hasher.PolicyFast,
		AudioOptions:     audio.DefaultOptions(),
	}
}

// EngineStats aggregates engine-level counters.
type EngineStats struct {
	Analyses    int64                      `json:"analyses"`
	CacheHits   int64                      `json:"cache_hits"`
	CacheMisses int64                      `json:"cache_misses"`
	Failures    int64                      `json:"failures"`
	LevelTimes  map[Level]time.Duration    `json:"level_times"`
	Backends    map[BackendTag]BackendStats `json:"backends"`
}

// Engine orchestrates decoding, backend selection and the cache path.
type Engine struct {
	config  *EngineConfig
	cache   FeatureCache
	logger  *logging.Logger
	metrics *metrics.Metrics

	fast      *backend
	reference *backend
	workers   *semaphore.Weighted

	// test seam for backend failure injection
	runBackend func(b *backend, buf *audio.Buffer, level Level) (*FeatureBundle, error)

	mutex sync.RWMutex
	stats EngineStats
}

// NewEngine builds an engine. cache may be nil to disable the cache path.
func NewEngine(config *EngineConfig, cache FeatureCache, logger *logging.Logger, m *metrics.Metrics) (*Engine, error) {
	if config == nil {
		config = DefaultEngineConfig()
	}
	if config.MaxWorkers < 1 {
		return nil, smerrors.Newf(smerrors.KindInvalidInput, "analysis", "max_workers must be >= 1, got %d", config.MaxWorkers)
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}
	if m == nil {
		m = metrics.Nop()
	}

	e := &Engine{
		config:    config,
		cache:     cache,
		logger:    logger.WithComponent("analysis"),
		metrics:   m,
		fast:      newBackend(BackendFast),
		reference: newBackend(BackendReference),
		workers:   semaphore.NewWeighted(int64(config.MaxWorkers)),
		stats: EngineStats{
			LevelTimes: make(map[Level]time.Duration),
			Backends:   make(map[BackendTag]BackendStats),
		},
	}
	e.runBackend = func(b *backend, buf *audio.Buffer, level Level) (*FeatureBundle, error) {
		return b.run(buf, level)
	}
	return e, nil
}

// Analyze extracts features for one file at the given level, consulting the
// feature cache first.
func (e *Engine) Analyze(ctx context.Context, path string, level Level) (*FeatureBundle, error) {
	bundle, _, err := e.AnalyzeCached(ctx, path, level)
	return bundle, err
}

// AnalyzeCached is Analyze plus a flag reporting whether the bundle was
// served from the feature cache.
func (e *Engine) AnalyzeCached(ctx context.Context, path string, level Level) (*FeatureBundle, bool, error) {
	if !level.Valid() {
		return nil, false, smerrors.Newf(smerrors.KindInvalidInput, "analysis", "unknown level %q", level)
	}

	key, err := e.cacheKey(path, level)
	if err != nil {
		return nil, false, err
	}
	if bundle, ok := e.cacheGet(key); ok {
		return bundle, true, nil
	}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return nil, false, fmt.Errorf("acquiring worker: %w", err)
	}
	defer e.workers.Release(1)

	bundle, err := e.analyzeLocked(ctx, path, level, key)
	return bundle, false, err
}

// analyzeLocked runs with a worker slot held.
func (e *Engine) analyzeLocked(ctx context.Context, path string, level Level, key Key) (*FeatureBundle, error) {
	start := time.Now()

	buf, err := audio.Load(path, e.config.AudioOptions)
	if err != nil {
		e.recordFailure(level)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	primary, secondary := e.fast, e.reference
	if e.config.PreferredBackend == BackendReference {
		primary, secondary = e.reference, e.fast
	}

	bundle, err := e.runBackend(primary, buf, level)
	usedFallback := false
	if err != nil && e.config.EnableFallback {
		e.logger.Warn("backend failed, retrying with fallback",
			"path", path, "backend", primary.tag, "error", err)
		bundle, err = e.runBackend(secondary, buf, level)
		usedFallback = true
	}
	if err != nil {
		e.recordFailure(level)
		e.metrics.AnalysisErrors.WithLabelValues(string(level), string(primary.tag)).Inc()
		return nil, smerrors.Wrap(err, smerrors.KindUpstream, "analysis", "extraction failed")
	}

	bundle.SourcePath = path
	bundle.UsedFallback = usedFallback

	e.cachePut(key, bundle, path)

	elapsed := time.Since(start)
	e.updateStats(func(s *EngineStats) {
		s.Analyses++
		s.LevelTimes[level] += elapsed
	})
	e.metrics.AnalysisDuration.WithLabelValues(string(level), bundle.BackendTag).Observe(elapsed.Seconds())
	return bundle, nil
}

// Result is one item of a batch analysis.
type Result struct {
	Path   string
	Bundle *FeatureBundle
	Err    error
}

// Progress is the polled batch counter.
type Progress struct {
	Total     int64
	Processed int64
	Failed    int64
	Elapsed   time.Duration
}

// Batch tracks one AnalyzeBatch invocation.
type Batch struct {
	total     int64
	processed atomic.Int64
	failed    atomic.Int64
	started   time.Time
	stopped   atomic.Bool
}

// Stop prevents queued items from dispatching. In-flight items finish.
func (b *Batch) Stop() { b.stopped.Store(true) }

// Progress returns the counter snapshot. Processed counts every completed
// item including failures; Failed counts the failing subset.
func (b *Batch) Progress() Progress {
	return Progress{
		Total:     b.total,
		Processed: b.processed.Load(),
		Failed:    b.failed.Load(),
		Elapsed:   time.Since(b.started),
	}
}

// AnalyzeBatch analyzes paths in parallel up to the worker-pool size.
// Results stream on the returned channel as items complete, not necessarily
// in submission order; per-item failures are carried in Result.Err and do
// not abort the batch. After Stop or context cancellation, queued items
// yield an error result while in-flight items run to completion.
func (e *Engine) AnalyzeBatch(ctx context.Context, paths []string, level Level) (<-chan Result, *Batch) {
	batch := &Batch{total: int64(len(paths)), started: time.Now()}
	out := make(chan Result, len(paths))

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		for _, path := range paths {
			if batch.stopped.Load() || ctx.Err() != nil {
				batch.processed.Add(1)
				batch.failed.Add(1)
				out <- Result{Path: path, Err: smerrors.New(smerrors.KindPartial, "analysis", "batch stopped before dispatch")}
				continue
			}

			if err := e.workers.Acquire(ctx, 1); err != nil {
				batch.processed.Add(1)
				batch.failed.Add(1)
				out <- Result{Path: path, Err: fmt.Errorf("acquiring worker: %w", err)}
				continue
			}

			wg.Add(1)
			go func(path string) {
				defer wg.Done()
				defer e.workers.Release(1)

				bundle, err := e.analyzeOne(ctx, path, level)
				if err != nil {
					err = smerrors.Wrap(err, smerrors.KindPartial, "analysis", "item failed")
					batch.failed.Add(1)
				}
				batch.processed.Add(1)
				out <- Result{Path: path, Bundle: bundle, Err: err}
			}(path)
		}
		wg.Wait()
	}()

	return out, batch
}

// analyzeOne is Analyze without worker acquisition (the batch holds slots).
func (e *Engine) analyzeOne(ctx context.Context, path string, level Level) (*FeatureBundle, error) {
	if !level.Valid() {
		return nil, smerrors.Newf(smerrors.KindInvalidInput, "analysis", "unknown level %q", level)
	}
	key, err := e.cacheKey(path, level)
	if err != nil {
		return nil, err
	}
	if bundle, ok := e.cacheGet(key); ok {
		return bundle, nil
	}
	return e.analyzeLocked(ctx, path, level, key)
}

func (e *Engine) cacheKey(path string, level Level) (Key, error) {
	fp, err := hasher.FileFingerprint(path, e.config.HashPolicy)
	if err != nil {
		return Key{}, smerrors.Wrap(err, smerrors.KindInvalidInput, "analysis", "fingerprinting input")
	}
	params := hasher.ParamsFingerprint(string(level), string(e.config.PreferredBackend), ExtractorVersion)
	return Key{ContentFingerprint: fp, ParamsFingerprint: params}, nil
}

func (e *Engine) cacheGet(key Key) (*FeatureBundle, bool) {
	if e.cache == nil {
		return nil, false
	}
	bundle, ok := e.cache.Get(key)
	if ok {
		e.updateStats(func(s *EngineStats) { s.CacheHits++ })
		e.metrics.CacheHits.WithLabelValues("feature").Inc()
		return bundle, true
	}
	e.updateStats(func(s *EngineStats) { s.CacheMisses++ })
	e.metrics.CacheMisses.WithLabelValues("feature").Inc()
	return nil, false
}

func (e *Engine) cachePut(key Key, bundle *FeatureBundle, path string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Put(key, bundle, path); err != nil {
		// cache writes are best-effort
		e.logger.Warn("feature cache write failed", "path", path, "error", err)
	}
}

func (e *Engine) recordFailure(level Level) {
	e.updateStats(func(s *EngineStats) { s.Failures++ })
}

func (e *Engine) updateStats(fn func(*EngineStats)) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	fn(&e.stats)
}

// Stats returns a copy of the engine counters including per-backend stats.
func (e *Engine) Stats() EngineStats {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	out := EngineStats{
		Analyses:    e.stats.Analyses,
		CacheHits:   e.stats.CacheHits,
		CacheMisses: e.stats.CacheMisses,
		Failures:    e.stats.Failures,
		LevelTimes:  make(map[Level]time.Duration, len(e.stats.LevelTimes)),
		Backends: map[BackendTag]BackendStats{
			BackendFast:      e.fast.Stats(),
			BackendReference: e.reference.Stats(),
		},
	}
	for k, v := range e.stats.LevelTimes {
		out.LevelTimes[k] = v
	}
	return out
}

// HPSSRuns reports total separations computed across backends.
func (e *Engine) HPSSRuns() int64 {
	return e.fast.HPSSRuns() + e.reference.HPSSRuns()
}
