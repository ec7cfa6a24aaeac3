package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore persists endpoint windows. Get returns nil, nil for unknown endpoints.
type StateStore interface {
	Get(ctx context.Context, endpoint string) (*State, error)
	Set(ctx context.Context, state *State) error
}

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

// Get implements StateStore.
func (m *MemoryStore) Get(_ context.Context, endpoint string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[endpoint]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

// Set implements StateStore.
func (m *MemoryStore) Set(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[state.Endpoint] = *state
	return nil
}

// DefaultKeyPrefix namespaces the Redis hashes written by RedisStore.
const DefaultKeyPrefix = "harvester:rate_limit"

// Hash fields of a stored window.
const (
	fieldLimit      = "limit"
	fieldRemaining  = "remaining"
	fieldResetAt    = "reset_at"
	fieldLastUpdate = "last_update"
)

// stateRetention keeps a window around for a while after it resets.
const stateRetention = 15 * time.Minute

// RedisStore keeps windows in Redis hashes, one per endpoint.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on top of an existing Redis client.
// An empty prefix selects DefaultKeyPrefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(endpoint string) string {
	return r.prefix + ":" + endpoint
}

// Get implements StateStore.
func (r *RedisStore) Get(ctx context.Context, endpoint string) (*State, error) {
	values, err := r.client.HGetAll(ctx, r.key(endpoint)).Result()
	if err != nil {
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	state := &State{Endpoint: endpoint}
	if state.Limit, err = strconv.Atoi(values[fieldLimit]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldLimit, err)
	}
	if state.Remaining, err = strconv.Atoi(values[fieldRemaining]); err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldRemaining, err)
	}

	resetAt, err := strconv.ParseInt(values[fieldResetAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldResetAt, err)
	}
	state.ResetAt = time.Unix(resetAt, 0)

	lastUpdate, err := strconv.ParseInt(values[fieldLastUpdate], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fieldLastUpdate, err)
	}
	state.LastUpdate = time.UnixMilli(lastUpdate)

	return state, nil
}

// Set implements StateStore. The hash expires some time after the window resets.
func (r *RedisStore) Set(ctx context.Context, state *State) error {
	key := r.key(state.Endpoint)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		fieldLimit, state.Limit,
		fieldRemaining, state.Remaining,
		fieldResetAt, state.ResetAt.Unix(),
		fieldLastUpdate, state.LastUpdate.UnixMilli(),
	)
	pipe.ExpireAt(ctx, key, state.ResetAt.Add(stateRetention))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
