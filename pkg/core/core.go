// Package core is the composition root: it wires the analysis engine,
// caches, usage tracking, warming, vector store, and AI clients from one
// configuration, and owns their shutdown order.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/samplemind/samplemind-core/pkg/ai"
	"github.com/samplemind/samplemind-core/pkg/analysis"
	"github.com/samplemind/samplemind-core/pkg/cache"
	"github.com/samplemind/samplemind-core/pkg/config"
	"github.com/samplemind/samplemind-core/pkg/featurecache"
	"github.com/samplemind/samplemind-core/pkg/kv"
	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/metrics"
	"github.com/samplemind/samplemind-core/pkg/usage"
	"github.com/samplemind/samplemind-core/pkg/vectorstore"
	"github.com/samplemind/samplemind-core/pkg/warmer"
)

// Core holds every subsystem. Optional backends that are unreachable at
// startup (Redis, Postgres) are left nil and the rest degrades gracefully.
type Core struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *metrics.Metrics

	KV        kv.Store
	Features  *featurecache.Cache
	Engine    *analysis.Engine
	Cache     *cache.Manager
	Tracker   *usage.Tracker
	Predictor *usage.Predictor
	Warmer    *warmer.Warmer
	Vectors   *vectorstore.Store
	AICache   *ai.Cache
	AIClient  *ai.Client
	Requester *ai.Requester
}

// lookahead settings for prediction-driven warming.
const (
	warmLookaheadDepth = 2
	warmLookaheadTopN  = 5
)

// New wires the whole core from configuration.
func New(cfg *config.Config) (*Core, error) {
	if cfg == nil {
		cfg = config.LoadFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.NewLogger(&logging.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "samplemind",
	}, nil)
	m := metrics.New()

	c := &Core{Config: cfg, Logger: logger, Metrics: m}

	if cfg.KVEnabled {
		store, err := kv.NewRedisStore(&kv.RedisConfig{
			Address:  fmt.Sprintf("%s:%d", cfg.KVHost, cfg.KVPort),
			Password: cfg.KVPassword,
			DB:       cfg.KVDB,
		}, logger)
		if err != nil {
			logger.Warn("kv store unavailable, running local-only", "error", err)
		} else {
			c.KV = store
		}
	}

	features, err := featurecache.New(cfg.FeatureCacheDir, logger)
	if err != nil {
		return nil, err
	}
	c.Features = features

	engineCfg := analysis.DefaultEngineConfig()
	engineCfg.MaxWorkers = cfg.MaxWorkers
	engineCfg.AudioOptions.TargetRate = cfg.SampleRate
	engine, err := analysis.NewEngine(engineCfg, features, logger, m)
	if err != nil {
		features.Close()
		return nil, err
	}
	c.Engine = engine

	managerCfg := cache.DefaultManagerConfig()
	managerCfg.MaxMemoryBytes = cfg.CacheMaxMemoryBytes
	managerCfg.Namespace = cfg.KVNamespace
	manager, err := cache.NewManager(managerCfg, c.KV, logger, m)
	if err != nil {
		features.Close()
		return nil, err
	}
	c.Cache = manager

	trackerCfg := usage.DefaultTrackerConfig()
	trackerCfg.Namespace = cfg.KVNamespace
	c.Tracker = usage.NewTracker(trackerCfg, c.KV, logger)
	c.Predictor = usage.NewPredictor(nil, c.Tracker)

	warmerCfg := warmer.DefaultConfig()
	warmerCfg.CPUThreshold = cfg.WarmerCPUThreshold
	warmerCfg.MemoryThreshold = cfg.WarmerMemoryThreshold
	warmerCfg.MaxConcurrent = cfg.WarmerMaxConcurrent
	c.Warmer = warmer.New(warmerCfg, engine, manager, nil, logger, m)
	c.Warmer.Start()

	if cfg.DatabaseURL != "" {
		storeCfg := vectorstore.DefaultConfig()
		storeCfg.DSN = cfg.DatabaseURL
		storeCfg.MinConns = cfg.PoolMin
		storeCfg.MaxConns = cfg.PoolMax
		storeCfg.EmbeddingDim = cfg.EmbeddingDim
		vectors, err := vectorstore.New(storeCfg, logger, m)
		if err != nil {
			logger.Warn("vector store unavailable, similarity search disabled", "error", err)
		} else {
			c.Vectors = vectors
		}
	}

	c.AICache = ai.NewCache(c.KV, cfg.AICacheTTL, logger, m)
	clientCfg := ai.DefaultClientConfig()
	clientCfg.MaxConnections = cfg.AIPoolMax
	clientCfg.ConnectTimeout = cfg.AIConnectTimeout
	clientCfg.ReadTimeout = cfg.AIReadTimeout
	c.AIClient = ai.InitClientPool(clientCfg, logger, m)
	c.Requester = ai.NewRequester(cfg, c.AICache, c.AIClient, logger, m)

	logger.Info("core initialized",
		"workers", cfg.MaxWorkers,
		"kv", c.KV != nil,
		"vectors", c.Vectors != nil)
	return c, nil
}

// Analyze runs one file through the engine and records the access so the
// predictor can drive warming.
func (c *Core) Analyze(ctx context.Context, path string, level analysis.Level) (*analysis.FeatureBundle, error) {
	start := time.Now()
	bundle, hit, err := c.Engine.AnalyzeCached(ctx, path, level)
	if err != nil {
		return nil, err
	}
	c.recordAccess(ctx, path, level, time.Since(start), hit, bundle)
	return bundle, nil
}

func (c *Core) recordAccess(ctx context.Context, path string, level analysis.Level, elapsed time.Duration, hit bool, bundle *analysis.FeatureBundle) {
	event := usage.Event{
		FileID:           path,
		FeatureType:      "full",
		AnalysisLevel:    string(level),
		ProcessingTimeMS: float64(elapsed.Milliseconds()),
		WasCacheHit:      hit,
		DurationS:        bundle.DurationS,
	}
	c.Tracker.RecordEvent(ctx, event)

	for _, p := range c.Predictor.Lookahead(event.State(), warmLookaheadDepth, warmLookaheadTopN) {
		fileID, featureType, predLevel, ok := splitState(p.State)
		if !ok {
			continue
		}
		c.Warmer.Enqueue(warmer.Task{
			FileID:        fileID,
			Path:          fileID,
			FeatureType:   featureType,
			AnalysisLevel: predLevel,
			Priority:      priorityFor(p.Confidence),
			Confidence:    p.Confidence,
		})
	}
}

// splitState unpacks "{file_id}:{feature_type}:{level}". The file id may
// itself contain colons (absolute paths on some systems), so the split
// works from the right.
func splitState(state string) (fileID, featureType, level string, ok bool) {
	last := -1
	secondLast := -1
	for i := len(state) - 1; i >= 0; i-- {
		if state[i] == ':' {
			if last == -1 {
				last = i
			} else {
				secondLast = i
				break
			}
		}
	}
	if secondLast <= 0 || last == len(state)-1 {
		return "", "", "", false
	}
	return state[:secondLast], state[secondLast+1 : last], state[last+1:], true
}

func priorityFor(confidence float64) warmer.Priority {
	switch {
	case confidence >= 0.85:
		return warmer.PriorityHigh
	case confidence >= 0.60:
		return warmer.PriorityNormal
	default:
		return warmer.PriorityLow
	}
}

// Index analyzes a file and upserts its embedding into the vector store.
func (c *Core) Index(ctx context.Context, path string, level analysis.Level, metadata map[string]any) (*vectorstore.Record, error) {
	if c.Vectors == nil {
		return nil, vectorstoreUnavailable()
	}
	bundle, err := c.Analyze(ctx, path, level)
	if err != nil {
		return nil, err
	}
	record, err := buildRecord(path, bundle, metadata, c.Config.EmbeddingDim)
	if err != nil {
		return nil, err
	}
	if _, err := c.Vectors.UpsertMany(ctx, []vectorstore.Record{*record}, 1); err != nil {
		return nil, err
	}
	return record, nil
}

// Search analyzes the query file and returns its nearest indexed
// neighbours.
func (c *Core) Search(ctx context.Context, path string, level analysis.Level, k int, filters []vectorstore.MetadataFilter) ([]vectorstore.SearchResult, error) {
	if c.Vectors == nil {
		return nil, vectorstoreUnavailable()
	}
	bundle, err := c.Analyze(ctx, path, level)
	if err != nil {
		return nil, err
	}
	embedding, err := vectorstore.FeatureEmbedding(bundle, c.Config.EmbeddingDim)
	if err != nil {
		return nil, err
	}
	return c.Vectors.FindSimilarFiltered(ctx, embedding, filters, nil, k, 0)
}

// Shutdown tears subsystems down in reverse dependency order.
func (c *Core) Shutdown(ctx context.Context) {
	c.Warmer.Stop()
	c.Tracker.Flush()
	c.AICache.Flush()
	ai.ShutdownClientPool()
	if c.Vectors != nil {
		if err := c.Vectors.Close(); err != nil {
			c.Logger.Warn("vector store close failed", "error", err)
		}
	}
	c.Cache.Close()
	c.Features.Close()
	if c.KV != nil {
		if err := c.KV.Close(); err != nil {
			c.Logger.Warn("kv close failed", "error", err)
		}
	}
	c.Logger.Info("core shut down")
}
