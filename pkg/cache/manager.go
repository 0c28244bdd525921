// Package cache is the two-level cache manager: an in-process table with
// LRU-K eviction and adaptive TTL, backed by the optional remote KV store.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samplemind/samplemind-core/pkg/kv"
	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/metrics"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

const (
	accessHistoryLen = 10

	ttlShort  = 300 * time.Second
	ttlMedium = 3600 * time.Second
	ttlLong   = 86400 * time.Second

	frequencyWeight = 0.7
	recencyWeight   = 0.3
	frequencyCap    = 100
)

// Entry is one cached value with its access bookkeeping.
type Entry struct {
	Key           string
	Value         []byte
	CreatedAt     time.Time
	LastAccessed  time.Time
	AccessCount   int64
	AccessHistory []time.Time // most recent K accesses
	TTL           time.Duration
	SizeBytes     int64
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.CreatedAt) > e.TTL
}

// score is the LRU-K eviction score: higher means more worth keeping.
func (e *Entry) score(now time.Time) float64 {
	frequency := float64(e.AccessCount) / frequencyCap
	if frequency > 1 {
		frequency = 1
	}
	recency := 1 - now.Sub(e.LastAccessed).Seconds()/e.TTL.Seconds()
	if recency < 0 {
		recency = 0
	}
	return frequencyWeight*frequency + recencyWeight*recency
}

func (e *Entry) touch(now time.Time) {
	e.LastAccessed = now
	e.AccessCount++
	e.AccessHistory = append(e.AccessHistory, now)
	if len(e.AccessHistory) > accessHistoryLen {
		e.AccessHistory = e.AccessHistory[len(e.AccessHistory)-accessHistoryLen:]
	}
}

// ManagerConfig controls the cache manager.
type ManagerConfig struct {
	MaxMemoryBytes  int64         `json:"max_memory_bytes"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	RemoteTTL       time.Duration `json:"remote_ttl"`
	Namespace       string        `json:"namespace"`
}

// DefaultManagerConfig returns production defaults: 100 MiB local budget,
// minutely cleanup.
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		MaxMemoryBytes:  100 * 1024 * 1024,
		CleanupInterval: time.Minute,
		RemoteTTL:       ttlLong,
		Namespace:       "samplemind",
	}
}

// ManagerStats reports cache activity.
type ManagerStats struct {
	Hits        int64 `json:"hits"`
	RemoteHits  int64 `json:"remote_hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Entries     int64 `json:"entries"`
	SizeBytes   int64 `json:"size_bytes"`
}

// Manager is the two-level cache. Readers share the lock; writers exclude.
type Manager struct {
	config  *ManagerConfig
	remote  kv.Store // nil disables the second level
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mutex     sync.RWMutex
	entries   map[string]*Entry
	sizeBytes int64
	stats     ManagerStats

	stopCh chan struct{}
	once   sync.Once
}

// NewManager builds a manager. remote may be nil for local-only operation.
func NewManager(config *ManagerConfig, remote kv.Store, logger *logging.Logger, m *metrics.Metrics) (*Manager, error) {
	if config == nil {
		config = DefaultManagerConfig()
	}
	if config.MaxMemoryBytes <= 0 {
		return nil, smerrors.New(smerrors.KindInvalidInput, "cache", "max_memory_bytes must be positive")
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}
	if m == nil {
		m = metrics.Nop()
	}

	mgr := &Manager{
		config:  config,
		remote:  remote,
		logger:  logger.WithComponent("cache"),
		metrics: m,
		now:     time.Now,
		entries: make(map[string]*Entry),
		stopCh:  make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go mgr.janitor()
	}
	return mgr, nil
}

// Get returns the cached value. Local expired entries are purged and count
// as misses; local misses consult the remote store and repopulate on hit.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	now := m.now()

	m.mutex.Lock()
	if entry, ok := m.entries[key]; ok {
		if entry.expired(now) {
			m.removeLocked(entry)
			m.stats.Expirations++
			m.stats.Misses++
			m.mutex.Unlock()
			m.metrics.CacheMisses.WithLabelValues("local").Inc()
			return nil, false
		}
		entry.touch(now)
		m.stats.Hits++
		value := entry.Value
		m.mutex.Unlock()
		m.metrics.CacheHits.WithLabelValues("local").Inc()
		return value, true
	}
	m.mutex.Unlock()

	if m.remote != nil {
		value, err := m.remote.Get(ctx, m.remoteKey(key))
		if err == nil {
			m.insert(key, value, 0)
			m.mutex.Lock()
			m.stats.RemoteHits++
			m.mutex.Unlock()
			m.metrics.CacheHits.WithLabelValues("remote").Inc()
			return value, true
		}
	}

	m.mutex.Lock()
	m.stats.Misses++
	m.mutex.Unlock()
	m.metrics.CacheMisses.WithLabelValues("local").Inc()
	return nil, false
}

// Set stores value under key. ttl 0 selects the adaptive TTL from the
// key's access history. The remote store is written first; a remote
// failure still installs the local entry but is surfaced to the caller.
func (m *Manager) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var remoteErr error
	if m.remote != nil {
		remoteErr = m.remote.Set(ctx, m.remoteKey(key), value, m.config.RemoteTTL)
		if remoteErr != nil {
			m.logger.Warn("remote cache write failed, keeping local copy", "key", key, "error", remoteErr)
			remoteErr = smerrors.Wrap(remoteErr, smerrors.KindTransient, "cache", "remote write failed")
		}
	}

	m.insert(key, value, ttl)
	return remoteErr
}

// insert installs the local entry, running eviction first when needed.
func (m *Manager) insert(key string, value []byte, ttl time.Duration) {
	now := m.now()
	size := int64(len(value) + len(key))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	prior := m.entries[key]
	if ttl == 0 {
		ttl = m.adaptiveTTL(prior)
	}
	if prior != nil {
		m.removeLocked(prior)
	}

	for m.sizeBytes+size > m.config.MaxMemoryBytes && len(m.entries) > 0 {
		m.evictLocked(now)
	}

	entry := &Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          ttl,
		SizeBytes:    size,
	}
	if prior != nil {
		// access history survives rewrites so adaptive TTL can see it
		entry.AccessCount = prior.AccessCount
		entry.AccessHistory = prior.AccessHistory
	}
	m.entries[key] = entry
	m.sizeBytes += size
}

// adaptiveTTL selects by accumulated access count: cold keys get the short
// TTL, warm keys medium, hot keys long. New keys start medium.
func (m *Manager) adaptiveTTL(prior *Entry) time.Duration {
	if prior == nil {
		return ttlMedium
	}
	switch {
	case prior.AccessCount > 50:
		return ttlLong
	case prior.AccessCount >= 10:
		return ttlMedium
	default:
		return ttlShort
	}
}

// evictLocked removes the lowest-scoring quartile of entries, at least one.
func (m *Manager) evictLocked(now time.Time) {
	if len(m.entries) == 0 {
		return
	}

	candidates := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score(now) < candidates[j].score(now)
	})

	count := len(candidates) / 4
	if count < 1 {
		count = 1
	}
	for _, victim := range candidates[:count] {
		m.removeLocked(victim)
		m.stats.Evictions++
		m.metrics.CacheEvictions.Inc()
	}
}

func (m *Manager) removeLocked(e *Entry) {
	delete(m.entries, e.Key)
	m.sizeBytes -= e.SizeBytes
}

// Delete removes key from both levels.
func (m *Manager) Delete(ctx context.Context, key string) {
	m.mutex.Lock()
	if entry, ok := m.entries[key]; ok {
		m.removeLocked(entry)
	}
	m.mutex.Unlock()

	if m.remote != nil {
		if err := m.remote.Delete(ctx, m.remoteKey(key)); err != nil {
			m.logger.Warn("remote cache delete failed", "key", key, "error", err)
		}
	}
}

// CleanupExpired purges every expired local entry and reports how many.
func (m *Manager) CleanupExpired() int {
	now := m.now()
	m.mutex.Lock()
	defer m.mutex.Unlock()

	removed := 0
	for _, entry := range m.entries {
		if entry.expired(now) {
			m.removeLocked(entry)
			m.stats.Expirations++
			removed++
		}
	}
	return removed
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n := m.CleanupExpired(); n > 0 {
				m.logger.Debug("purged expired cache entries", "count", n)
			}
		}
	}
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() ManagerStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := m.stats
	out.Entries = int64(len(m.entries))
	out.SizeBytes = m.sizeBytes
	return out
}

// SizeBytes returns the current local footprint.
func (m *Manager) SizeBytes() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.sizeBytes
}

// Close stops the janitor.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.stopCh) })
}

func (m *Manager) remoteKey(key string) string {
	return kv.BuildKey(m.config.Namespace, "cache", key)
}
