// Package kv wraps the remote key-value store behind a small interface.
// Keys use the namespace "samplemind:<subsystem>:<key>". Unreachability is
// surfaced as Transient errors so callers can degrade to local-only
// operation.
package kv

import (
	"context"
	"strings"
	"time"

	"github.com/samplemind/samplemind-core/pkg/smerrors"
)

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = smerrors.New(smerrors.KindNotFound, "kv", "key not found")

// Store is a key -> opaque bytes store with TTL and prefix operations.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeleteByPrefix removes every key with the given prefix and returns
	// the number removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// BuildKey joins namespace, subsystem and key segments.
func BuildKey(namespace, subsystem string, parts ...string) string {
	segments := append([]string{namespace, subsystem}, parts...)
	return strings.Join(segments, ":")
}
