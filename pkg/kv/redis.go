package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/samplemind/samplemind-core/pkg/logging"
	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultRedisConfig returns production defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisStore implements Store on go-redis.
type RedisStore struct {
	client *redis.Client
	logger *logging.Logger
}

// NewRedisStore connects and verifies the connection with a ping.
func NewRedisStore(config *RedisConfig, logger *logging.Logger) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if logger == nil {
		logger = logging.NewLogger(nil, nil)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, smerrors.Wrap(err, smerrors.KindTransient, "kv",
			fmt.Sprintf("connecting to %s", config.Address))
	}

	logger.WithComponent("kv").Info("connected to redis", "address", config.Address, "db", config.DB)
	return &RedisStore{client: client, logger: logger.WithComponent("kv")}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, smerrors.Wrap(err, smerrors.KindTransient, "kv", "get failed")
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return smerrors.Wrap(err, smerrors.KindTransient, "kv", "set failed")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return smerrors.Wrap(err, smerrors.KindTransient, "kv", "delete failed")
	}
	return nil
}

// DeleteByPrefix scans in batches to avoid blocking the server on large
// keyspaces.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	pattern := prefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return removed, smerrors.Wrap(err, smerrors.KindTransient, "kv", "scan failed")
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return removed, smerrors.Wrap(err, smerrors.KindTransient, "kv", "batch delete failed")
			}
			removed += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return smerrors.Wrap(err, smerrors.KindTransient, "kv", "ping failed")
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
