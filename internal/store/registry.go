package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "relay:session:"

// SessionKey returns the registry key for a session.
func SessionKey(id string) string {
	return sessionKeyPrefix + id
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]SessionInfo
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]SessionInfo)}
}

func (r *MemoryRegistry) Register(ctx context.Context, info SessionInfo) error {
	if info.ID == "" {
		return fmt.Errorf("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[info.ID] = info
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *MemoryRegistry) Lookup(ctx context.Context, id string) (SessionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.sessions[id]
	if !ok {
		return SessionInfo{}, ErrSessionNotFound
	}
	return info, nil
}

// Len returns the number of registered sessions.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *MemoryRegistry) Close() error { return nil }

// RedisConfig holds Redis registry configuration.
type RedisConfig struct {
	URL string
	TTL time.Duration // Default: 2 hours
}

// RedisRegistry stores session entries as JSON with a TTL, so entries of a
// crashed instance expire on their own.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry connects to Redis and verifies the connection.
func NewRedisRegistry(ctx context.Context, cfg RedisConfig) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 2 * time.Hour
	}
	return &RedisRegistry{client: client, ttl: ttl}, nil
}

func (r *RedisRegistry) Register(ctx context.Context, info SessionInfo) error {
	if info.ID == "" {
		return fmt.Errorf("session id is required")
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, SessionKey(info.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Deregister(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, SessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to deregister session: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Lookup(ctx context.Context, id string) (SessionInfo, error) {
	data, err := r.client.Get(ctx, SessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SessionInfo{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionInfo{}, fmt.Errorf("failed to lookup session: %w", err)
	}
	var info SessionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return SessionInfo{}, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return info, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
