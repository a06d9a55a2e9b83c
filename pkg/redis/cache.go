package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache provides typed caching utilities on top of Client.
type Cache struct {
	client *Client
	prefix string
}

// NewCache creates a new cache helper.
func NewCache(client *Client, prefix string) *Cache {
	return &Cache{
		client: client,
		prefix: prefix,
	}
}

// Get retrieves a cached value.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !c.client.Enabled() {
		return false, nil
	}

	fullKey := fmt.Sprintf("%s:cache:%s", c.prefix, key)
	data, err := c.client.Redis().Get(ctx, fullKey).Bytes()
	if err != nil {
		// Key not found is not an error
		return false, nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}

	return true, nil
}

// Set stores a value in cache with TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.client.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	fullKey := fmt.Sprintf("%s:cache:%s", c.prefix, key)
	return c.client.Redis().Set(ctx, fullKey, data, ttl).Err()
}

// Delete removes a cached value.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.client.Enabled() {
		return nil
	}

	fullKey := fmt.Sprintf("%s:cache:%s", c.prefix, key)
	return c.client.Redis().Del(ctx, fullKey).Err()
}

// GetOrSet retrieves from cache or calls fn to populate it.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, fn func() (interface{}, error)) error {
	found, err := c.Get(ctx, key, dest)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	// Cache miss
	value, err := fn()
	if err != nil {
		return err
	}

	if err := c.Set(ctx, key, value, ttl); err != nil {
		// A failed cache write must not fail the read path.
		return nil
	}

	data, _ := json.Marshal(value)
	return json.Unmarshal(data, dest)
}

// Predefined TTLs.
const (
	TTLShort  = 1 * time.Minute  // intraday quotes
	TTLMedium = 10 * time.Minute // security info
	TTLLong   = 1 * time.Hour    // master data
	TTLDaily  = 24 * time.Hour   // daily bars, fundamentals
)

// Common cache key generators.

func ChartKey(symbol string, lookbackDays int) string {
	return fmt.Sprintf("chart:%s:%d", symbol, lookbackDays)
}

func FundamentalsKey(symbol string) string {
	return fmt.Sprintf("fundamentals:%s", symbol)
}

func ConstituentsKey(index string) string {
	return fmt.Sprintf("constituents:%s", index)
}
