package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samplemind/samplemind-core/pkg/kv"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

func newTestManager(t *testing.T, config *ManagerConfig, remote kv.Store) *Manager {
	t.Helper()
	if config == nil {
		config = DefaultManagerConfig()
	}
	config.CleanupInterval = 0 // no janitor in tests
	mgr, err := NewManager(config, remote, nil, nil)
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return mgr
}

func TestManagerSetGet(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, "alpha", []byte("one"), 0))

	value, ok := mgr.Get(ctx, "alpha")
	require.True(t, ok)
	assert.Equal(t, []byte("one"), value)

	_, ok = mgr.Get(ctx, "missing")
	assert.False(t, ok)

	stats := mgr.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Entries)
}

func TestManagerExpiredEntryRemovedOnGet(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	ctx := context.Background()

	now := time.Now()
	mgr.now = func() time.Time { return now }
	require.NoError(t, mgr.Set(ctx, "short", []byte("v"), time.Second))

	mgr.now = func() time.Time { return now.Add(2 * time.Second) }
	_, ok := mgr.Get(ctx, "short")
	assert.False(t, ok)

	stats := mgr.Stats()
	assert.Equal(t, int64(1), stats.Expirations)
	assert.Equal(t, int64(0), stats.Entries)
	assert.Equal(t, int64(0), stats.SizeBytes)
}

func TestManagerAdaptiveTTL(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	ctx := context.Background()

	// unseen key starts at the medium tier
	require.NoError(t, mgr.Set(ctx, "new", []byte("v"), 0))
	assert.Equal(t, ttlMedium, mgr.entries["new"].TTL)

	seed := func(key string, accesses int) {
		require.NoError(t, mgr.Set(ctx, key, []byte("v"), 0))
		for i := 0; i < accesses; i++ {
			_, ok := mgr.Get(ctx, key)
			require.True(t, ok)
		}
		require.NoError(t, mgr.Set(ctx, key, []byte("v2"), 0))
	}

	seed("cold", 5)
	assert.Equal(t, ttlShort, mgr.entries["cold"].TTL)

	seed("warm", 20)
	assert.Equal(t, ttlMedium, mgr.entries["warm"].TTL)

	seed("hot", 60)
	assert.Equal(t, ttlLong, mgr.entries["hot"].TTL)
}

func TestManagerExplicitTTLWins(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	require.NoError(t, mgr.Set(context.Background(), "pinned", []byte("v"), 42*time.Second))
	assert.Equal(t, 42*time.Second, mgr.entries["pinned"].TTL)
}

func TestManagerEvictionUnderPressure(t *testing.T) {
	config := DefaultManagerConfig()
	config.MaxMemoryBytes = 1024 * 1024
	mgr := newTestManager(t, config, nil)
	ctx := context.Background()

	value := make([]byte, 80*1024)
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("entry-%02d", i)
		require.NoError(t, mgr.Set(ctx, key, value, time.Hour))

		// skewed popularity: early keys hot, middle warm, late cold
		var reads int
		switch {
		case i < 5:
			reads = 200
		case i < 12:
			reads = 50
		}
		for r := 0; r < reads; r++ {
			_, ok := mgr.Get(ctx, key)
			require.True(t, ok)
		}
	}

	assert.LessOrEqual(t, mgr.SizeBytes(), config.MaxMemoryBytes)
	assert.Positive(t, mgr.Stats().Evictions)

	// the heavily accessed keys survive the churn
	for i := 0; i < 5; i++ {
		_, ok := mgr.Get(ctx, fmt.Sprintf("entry-%02d", i))
		assert.True(t, ok, "hot entry %d evicted", i)
	}
}

func TestManagerEvictionScore(t *testing.T) {
	now := time.Now()
	hot := &Entry{AccessCount: 200, LastAccessed: now, TTL: time.Hour}
	cold := &Entry{AccessCount: 0, LastAccessed: now.Add(-2 * time.Hour), TTL: time.Hour}

	assert.InDelta(t, 1.0, hot.score(now), 1e-9)
	assert.InDelta(t, 0.0, cold.score(now), 1e-9)

	half := &Entry{AccessCount: 50, LastAccessed: now.Add(-30 * time.Minute), TTL: time.Hour}
	assert.InDelta(t, 0.7*0.5+0.3*0.5, half.score(now), 1e-9)
}

func TestManagerRemoteFallthrough(t *testing.T) {
	remote := kv.NewMemoryStore()
	mgr := newTestManager(t, nil, remote)
	ctx := context.Background()

	require.NoError(t, remote.Set(ctx, "samplemind:cache:shared", []byte("remote-value"), 0))

	value, ok := mgr.Get(ctx, "shared")
	require.True(t, ok)
	assert.Equal(t, []byte("remote-value"), value)
	assert.Equal(t, int64(1), mgr.Stats().RemoteHits)

	// repopulated locally, so the next read does not need the remote
	require.NoError(t, remote.Delete(ctx, "samplemind:cache:shared"))
	value, ok = mgr.Get(ctx, "shared")
	require.True(t, ok)
	assert.Equal(t, []byte("remote-value"), value)
}

func TestManagerSetWritesRemoteFirst(t *testing.T) {
	remote := kv.NewMemoryStore()
	mgr := newTestManager(t, nil, remote)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, "both", []byte("v"), 0))

	stored, err := remote.Get(ctx, "samplemind:cache:both")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), stored)
}

func TestManagerRemoteFailureKeepsLocal(t *testing.T) {
	remote := kv.NewMemoryStore()
	remote.FailWrites = true
	mgr := newTestManager(t, nil, remote)
	ctx := context.Background()

	err := mgr.Set(ctx, "degraded", []byte("v"), 0)
	require.Error(t, err)
	assert.Equal(t, smerrors.KindTransient, smerrors.KindOf(err))

	value, ok := mgr.Get(ctx, "degraded")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestManagerDelete(t *testing.T) {
	remote := kv.NewMemoryStore()
	mgr := newTestManager(t, nil, remote)
	ctx := context.Background()

	require.NoError(t, mgr.Set(ctx, "gone", []byte("v"), 0))
	mgr.Delete(ctx, "gone")

	_, ok := mgr.Get(ctx, "gone")
	assert.False(t, ok)
	_, err := remote.Get(ctx, "samplemind:cache:gone")
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestManagerCleanupExpired(t *testing.T) {
	mgr := newTestManager(t, nil, nil)
	ctx := context.Background()

	now := time.Now()
	mgr.now = func() time.Time { return now }
	require.NoError(t, mgr.Set(ctx, "a", []byte("v"), time.Second))
	require.NoError(t, mgr.Set(ctx, "b", []byte("v"), time.Hour))

	mgr.now = func() time.Time { return now.Add(time.Minute) }
	assert.Equal(t, 1, mgr.CleanupExpired())

	_, ok := mgr.Get(ctx, "b")
	assert.True(t, ok)
}

func TestManagerRejectsZeroBudget(t *testing.T) {
	_, err := NewManager(&ManagerConfig{MaxMemoryBytes: 0}, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, smerrors.KindInvalidInput, smerrors.KindOf(err))
}
