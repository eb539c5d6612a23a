// Package kv wraps the Redis client used for telemetry, caching and rate limiting.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by GetJSON when the key does not exist
var ErrMiss = errors.New("kv: key not found")

// Client is a thin wrapper around redis.Client
type Client struct {
	rdb *redis.Client
}

// Connect parses a redis:// URL and verifies the server answers
func Connect(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Wrap adopts an existing client
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis exposes the underlying client for packages that script commands directly
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetJSON stores value as JSON with the given expiration
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// GetJSON decodes the JSON stored at key into dest
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val, dest)
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// AddMember adds member to the set at key and reports whether it was new
func (c *Client) AddMember(ctx context.Context, key, member string) (bool, error) {
	n, err := c.rdb.SAdd(ctx, key, member).Result()
	return n > 0, err
}

// SetSize returns the cardinality of the set at key
func (c *Client) SetSize(ctx context.Context, key string) (int64, error) {
	return c.rdb.SCard(ctx, key).Result()
}

// ScanMembers walks the set at key with SSCAN, calling fn for each member.
// Returning an error from fn stops the scan.
func (c *Client) ScanMembers(ctx context.Context, key string, batch int64, fn func(member string) error) error {
	iter := c.rdb.SScan(ctx, key, 0, "", batch).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}
