package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces mirror keys and the change channel.
const DefaultPrefix = "voltfleet"

// RedisMirror writes each view to "<prefix>:view:<name>" with a TTL and
// announces the change on the "<prefix>:views" channel.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	mu     sync.RWMutex
}

// NewRedisMirror connects to Redis and verifies the connection.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
//   - ttl: key expiration (0 uses default of 5 minutes)
func NewRedisMirror(addr, password string, db int, ttl time.Duration) (*RedisMirror, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisMirror{
		client: client,
		ttl:    ttl,
		prefix: DefaultPrefix,
	}, nil
}

// Key returns the key a view is stored under.
func (r *RedisMirror) Key(view string) string {
	return fmt.Sprintf("%s:view:%s", r.prefix, view)
}

// Channel returns the pub/sub channel change notifications go to.
func (r *RedisMirror) Channel() string {
	return r.prefix + ":views"
}

// Publish stores the view payload and announces the change in one pipeline.
func (r *RedisMirror) Publish(ctx context.Context, e Entry) error {
	if e.View == "" {
		return errors.New("view name required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return ErrClosed
	}

	msg, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.Key(e.View), []byte(e.Payload), r.ttl)
	pipe.Publish(ctx, r.Channel(), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror view %q to redis: %w", e.View, err)
	}

	return nil
}

// Ping checks the Redis connection health.
func (r *RedisMirror) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return ErrClosed
	}
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisMirror) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}

	return err
}
