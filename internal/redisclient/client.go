package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
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

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// deletedMarker replaces a deleted product's entry so late cache fills
// cannot bring it back
const deletedMarker = "deleted"

func productKey(id uuid.UUID) string {
	return fmt.Sprintf("product:%s", id)
}

// GetProduct returns the cached product, or nil on a miss
func (c *Client) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	raw, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("product cache get failed: %w", err)
	}
	if string(raw) == deletedMarker {
		return nil, nil
	}

	var product models.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		// unreadable entries are treated as a miss and dropped
		_ = c.rdb.Del(ctx, productKey(id)).Err()
		return nil, nil
	}
	return &product, nil
}

// SetProduct caches a product for ttl, replacing whatever is there. Writers
// call it after commit.
func (c *Client) SetProduct(ctx context.Context, product *models.Product, ttl time.Duration) error {
	raw, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}
	return c.rdb.Set(ctx, productKey(product.ID), raw, ttl).Err()
}

// FillProduct caches a product read from the database unless the entry
// already holds a version at least as new, or the deletion marker. Readers
// use it so a row loaded before a concurrent update cannot replace the
// writer's entry.
func (c *Client) FillProduct(ctx context.Context, product *models.Product, ttl time.Duration) error {
	raw, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("failed to marshal product: %w", err)
	}
	key := productKey(product.ID)

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		case string(current) == deletedMarker:
			return nil
		default:
			var cached models.Product
			if json.Unmarshal(current, &cached) == nil && !product.UpdatedAt.After(cached.UpdatedAt) {
				return nil
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// a writer changed the entry meanwhile; its value wins
		return nil
	}
	if err != nil {
		return fmt.Errorf("product cache fill failed: %w", err)
	}
	return nil
}

// MarkProductDeleted replaces the entry with the deletion marker for ttl
func (c *Client) MarkProductDeleted(ctx context.Context, id uuid.UUID, ttl time.Duration) error {
	return c.rdb.Set(ctx, productKey(id), deletedMarker, ttl).Err()
}

// DeleteProduct evicts a product from the cache
func (c *Client) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return c.rdb.Del(ctx, productKey(id)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
