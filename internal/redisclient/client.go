package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and checks connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:order:%s", key)
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// pendingOrder marks an idempotency key whose order is still being created
const pendingOrder = "pending"

// ClaimIdempotencyKey reserves key for the caller. When the key is already
// taken it reports the order stored under it, or 0 while the owning request
// is still running.
func (c *Client) ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (int64, bool, error) {
	ok, err := c.rdb.SetNX(ctx, idempotencyKey(key), pendingOrder, ttl).Result()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}

	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Result()
	if errors.Is(err, redis.Nil) || val == pendingOrder {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	orderID, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt idempotency entry %q: %w", key, err)
	}
	return orderID, false, nil
}

// CompleteIdempotencyKey stores the order created under a claimed key
func (c *Client) CompleteIdempotencyKey(ctx context.Context, key string, orderID int64, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), orderID, ttl).Err()
}

// ReleaseIdempotencyKey drops a claim so the key can be used again
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

// AcquireLock takes a distributed lock and returns the owner token needed
// to release it
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases a lock if token still owns it. A lock that expired
// and was taken by someone else is left alone.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) error {
	if err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
