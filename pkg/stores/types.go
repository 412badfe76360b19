package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ErrNotInitialized is returned when a store is used before Init.
var ErrNotInitialized = errors.New("store not initialized")

// Store is a data source cache backend.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value interface{}) error

	// Get returns the stored value and whether it was present.
	Get(ctx context.Context, key string) (interface{}, bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the stored keys in lexical order.
	Keys(ctx context.Context) ([]string, error)
}

// DataSource is a persisted cache entry.
type DataSource struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend string
	SQLite  Config
	Redis   RedisConfig
}

// Open creates the backend named by opts.Backend, initializes it and runs
// its migrations. An empty backend selects the memory store.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)

	switch opts.Backend {
	case "", BackendMemory:
		store = NewMemoryStore()
	case BackendSQLite:
		store, err = NewSQLiteStore(opts.SQLite)
	case BackendRedis:
		store, err = NewRedisStore(opts.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", opts.Backend, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate %s store: %w", opts.Backend, err)
	}
	return store, nil
}

// encodeValue serializes a cache value for backends that store bytes.
func encodeValue(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return data, nil
}

func decodeValue(data []byte) (interface{}, error) {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return value, nil
}
