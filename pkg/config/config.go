// Package config loads SampleMind configuration from SM_* environment
// variables with an optional YAML file overlay. Absent variables fall back
// to documented defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the flat configuration for the whole core.
type Config struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Remote KV store
	KVHost      string `yaml:"kv_host"`
	KVPort      int    `yaml:"kv_port"`
	KVPassword  string `yaml:"kv_password"`
	KVDB        int    `yaml:"kv_db"`
	KVNamespace string `yaml:"kv_namespace"`
	KVEnabled   bool   `yaml:"kv_enabled"`

	// Vector store
	DatabaseURL string `yaml:"database_url"`
	PoolMin     int    `yaml:"pool_min"`
	PoolMax     int    `yaml:"pool_max"`
	EmbeddingDim int   `yaml:"embedding_dim"`

	// Analysis
	MaxWorkers      int    `yaml:"max_workers"`
	SampleRate      int    `yaml:"sample_rate"`
	FeatureCacheDir string `yaml:"feature_cache_dir"`

	// Cache manager
	CacheMaxMemoryBytes int64         `yaml:"cache_max_memory_bytes"`
	CacheTTL            time.Duration `yaml:"cache_ttl"`

	// Cache warmer
	WarmerCPUThreshold    float64 `yaml:"warmer_cpu_threshold"`
	WarmerMemoryThreshold float64 `yaml:"warmer_memory_threshold"`
	WarmerMaxConcurrent   int     `yaml:"warmer_max_concurrent"`

	// AI clients
	AIConnectTimeout time.Duration `yaml:"ai_connect_timeout"`
	AIReadTimeout    time.Duration `yaml:"ai_read_timeout"`
	AIPoolMax        int           `yaml:"ai_pool_max"`
	AICacheTTL       time.Duration `yaml:"ai_cache_ttl"`

	// Providers: Local, CloudFast, CloudSmart, CloudGeneral
	LocalURL        string `yaml:"local_url"`
	CloudFastURL    string `yaml:"cloud_fast_url"`
	CloudFastKey    string `yaml:"cloud_fast_key"`
	CloudSmartURL   string `yaml:"cloud_smart_url"`
	CloudSmartKey   string `yaml:"cloud_smart_key"`
	CloudGeneralURL string `yaml:"cloud_general_url"`
	CloudGeneralKey string `yaml:"cloud_general_key"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",

		KVHost:      "localhost",
		KVPort:      6379,
		KVNamespace: "samplemind",
		KVEnabled:   true,

		PoolMin:      2,
		PoolMax:      10,
		EmbeddingDim: 1536,

		MaxWorkers:      runtime.NumCPU(),
		SampleRate:      44100,
		FeatureCacheDir: defaultCacheDir(),

		CacheMaxMemoryBytes: 100 * 1024 * 1024,
		CacheTTL:            time.Hour,

		WarmerCPUThreshold:    0.60,
		WarmerMemoryThreshold: 0.70,
		WarmerMaxConcurrent:   2,

		AIConnectTimeout: 5 * time.Second,
		AIReadTimeout:    30 * time.Second,
		AIPoolMax:        100,
		AICacheTTL:       7 * 24 * time.Hour,

		LocalURL:        "http://localhost:11434",
		CloudFastURL:    "https://generativelanguage.googleapis.com",
		CloudSmartURL:   "https://api.anthropic.com",
		CloudGeneralURL: "https://api.openai.com",
	}
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".samplemind/cache"
	}
	return home + "/.samplemind/cache"
}

// LoadFromEnv returns the defaults overridden by any SM_* variables set in
// the environment.
func LoadFromEnv() *Config {
	cfg := Default()

	cfg.LogLevel = getEnv("SM_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("SM_LOG_FORMAT", cfg.LogFormat)

	cfg.KVHost = getEnv("SM_KV_HOST", cfg.KVHost)
	cfg.KVPort = getEnvInt("SM_KV_PORT", cfg.KVPort)
	cfg.KVPassword = getEnv("SM_KV_PASSWORD", cfg.KVPassword)
	cfg.KVDB = getEnvInt("SM_KV_DB", cfg.KVDB)
	cfg.KVNamespace = getEnv("SM_KV_NAMESPACE", cfg.KVNamespace)
	cfg.KVEnabled = getEnvBool("SM_KV_ENABLED", cfg.KVEnabled)

	cfg.DatabaseURL = getEnv("SM_DB_URL", cfg.DatabaseURL)
	cfg.PoolMin = getEnvInt("SM_POOL_MIN", cfg.PoolMin)
	cfg.PoolMax = getEnvInt("SM_POOL_MAX", cfg.PoolMax)
	cfg.EmbeddingDim = getEnvInt("SM_EMBEDDING_DIM", cfg.EmbeddingDim)

	cfg.MaxWorkers = getEnvInt("SM_MAX_WORKERS", cfg.MaxWorkers)
	cfg.SampleRate = getEnvInt("SM_SAMPLE_RATE", cfg.SampleRate)
	cfg.FeatureCacheDir = getEnv("SM_FEATURE_CACHE_DIR", cfg.FeatureCacheDir)

	cfg.CacheMaxMemoryBytes = getEnvInt64("SM_CACHE_MAX_MEMORY_BYTES", cfg.CacheMaxMemoryBytes)
	cfg.CacheTTL = getEnvSeconds("SM_CACHE_TTL_S", cfg.CacheTTL)

	cfg.WarmerCPUThreshold = getEnvFloat("SM_WARMER_CPU_THRESHOLD", cfg.WarmerCPUThreshold)
	cfg.WarmerMemoryThreshold = getEnvFloat("SM_WARMER_MEMORY_THRESHOLD", cfg.WarmerMemoryThreshold)
	cfg.WarmerMaxConcurrent = getEnvInt("SM_WARMER_MAX_CONCURRENT", cfg.WarmerMaxConcurrent)

	cfg.AIConnectTimeout = getEnvSeconds("SM_AI_CONNECT_TIMEOUT_S", cfg.AIConnectTimeout)
	cfg.AIReadTimeout = getEnvSeconds("SM_AI_READ_TIMEOUT_S", cfg.AIReadTimeout)
	cfg.AIPoolMax = getEnvInt("SM_AI_POOL_MAX", cfg.AIPoolMax)
	cfg.AICacheTTL = getEnvSeconds("SM_AI_CACHE_TTL_S", cfg.AICacheTTL)

	cfg.LocalURL = getEnv("SM_LOCAL_URL", cfg.LocalURL)
	cfg.CloudFastURL = getEnv("SM_CLOUD_FAST_URL", cfg.CloudFastURL)
	cfg.CloudFastKey = getEnv("SM_CLOUD_FAST_KEY", cfg.CloudFastKey)
	cfg.CloudSmartURL = getEnv("SM_CLOUD_SMART_URL", cfg.CloudSmartURL)
	cfg.CloudSmartKey = getEnv("SM_CLOUD_SMART_KEY", cfg.CloudSmartKey)
	cfg.CloudGeneralURL = getEnv("SM_CLOUD_GENERAL_URL", cfg.CloudGeneralURL)
	cfg.CloudGeneralKey = getEnv("SM_CLOUD_GENERAL_KEY", cfg.CloudGeneralKey)

	return cfg
}

// LoadFile overlays values from a YAML file onto cfg. Unset fields in the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate returns an error naming every violated constraint.
func (c *Config) Validate() error {
	var problems []string

	if c.MaxWorkers < 1 {
		problems = append(problems, "max_workers must be >= 1")
	}
	if c.SampleRate < 8000 {
		problems = append(problems, "sample_rate must be >= 8000")
	}
	if c.PoolMin < 0 || c.PoolMax < 1 || c.PoolMin > c.PoolMax {
		problems = append(problems, "pool bounds must satisfy 0 <= pool_min <= pool_max, pool_max >= 1")
	}
	if c.EmbeddingDim < 1 {
		problems = append(problems, "embedding_dim must be >= 1")
	}
	if c.CacheMaxMemoryBytes < 1 {
		problems = append(problems, "cache_max_memory_bytes must be positive")
	}
	if c.WarmerCPUThreshold <= 0 || c.WarmerCPUThreshold > 1 {
		problems = append(problems, "warmer_cpu_threshold must be in (0, 1]")
	}
	if c.WarmerMemoryThreshold <= 0 || c.WarmerMemoryThreshold > 1 {
		problems = append(problems, "warmer_memory_threshold must be in (0, 1]")
	}
	if c.WarmerMaxConcurrent < 1 {
		problems = append(problems, "warmer_max_concurrent must be >= 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// KVAddr returns the host:port address of the remote KV store.
func (c *Config) KVAddr() string {
	return fmt.Sprintf("%s:%d", c.KVHost, c.KVPort)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
