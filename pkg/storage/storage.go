// Package storage provides the persistent key-value tier behind the place
// cache. Every backend enumerates keys in order of their most recent
// write, which makes the cache's fuzzy scan deterministic.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store closed")

// Store is a string key-value store with ordered key enumeration.
type Store interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set writes value under key and moves key to the end of the key order.
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Keys lists all keys, least recently written first.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Pinger is implemented by stores backed by a network service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// Path is the JSON document for the file backend.
	Path string
	// DSN is the connection string for the postgres backend. When empty it
	// is built from the PG_* environment variables.
	DSN string
	// Prefix namespaces redis keys.
	Prefix string
}

// Open constructs the configured backend. Redis connection settings come
// from the REDIS_* environment variables.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		if opts.Path == "" {
			return nil, fmt.Errorf("file store requires a path")
		}
		return OpenFileStore(opts.Path)
	case BackendRedis:
		s := NewRedisStore(OpenRedisFromEnv(), opts.Prefix)
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return s, nil
	case BackendPostgres:
		dsn := opts.DSN
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			dsn = BuildPostgresDSNFromEnv()
		}
		return OpenPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}
