package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatekeeper/pkg/accesserr"
)

// ErrNotFound is returned when a session id is unknown or expired
var ErrNotFound = errors.New("session not found")

// RedisConfig configures the Redis connection used for sessions
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	KeyPrefix  string
}

// DialRedis connects to Redis and verifies the connection
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisStore persists sessions with a mode-dependent expiry
type RedisStore struct {
	client *redis.Client
	ttl    func(*Session) time.Duration
	prefix string
}

// NewRedisStore creates a session store. ttl decides each session's expiry,
// usually Machine.TTL.
func NewRedisStore(client *redis.Client, ttl func(*Session) time.Duration, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gatekeeper:session:"
	}
	return &RedisStore{client: client, ttl: ttl, prefix: prefix}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

// Save writes a session, resetting its expiry
func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), data, r.ttl(s)).Err(); err != nil {
		return accesserr.Unavailable("session.Save", err)
	}
	return nil
}

// Load reads a session
func (r *RedisStore) Load(ctx context.Context, id string) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, accesserr.Unavailable("session.Load", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		// Drop corrupt entries so the user logs in again
		r.client.Del(ctx, r.key(id))
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

// Delete removes a session
func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return accesserr.Unavailable("session.Delete", err)
	}
	return nil
}

// Close closes the underlying client
func (r *RedisStore) Close() error {
	return r.client.Close()
}
