package offline

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
)

// Cache keeps the last-known-good snapshot of each collection for offline reads.
// Snapshots never expire. Failures are logged and never reach the caller.
type Cache struct {
	store  Store
	logger core.Logger
}

func NewCache(store Store, logger core.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

func cacheKey(key string) string {
	return cachePrefix + key
}

// Set replaces the snapshot stored under key.
func (c *Cache) Set(key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("caching snapshot", errors.Wrapf(err, "encoding %s", key))
		return
	}
	c.SetRaw(key, data)
}

// SetRaw replaces the snapshot stored under key with an already encoded JSON value.
func (c *Cache) SetRaw(key string, data json.RawMessage) {
	if err := c.store.Set(cacheKey(key), string(data)); err != nil {
		c.logger.Warn("caching snapshot", errors.Wrapf(err, "storing %s", key))
	}
}

// GetRaw returns the snapshot stored under key.
// ok is false when the key is absent, the store fails or the stored value is not valid JSON.
func (c *Cache) GetRaw(key string) (json.RawMessage, bool) {
	raw, ok, err := c.store.Get(cacheKey(key))
	if err != nil {
		c.logger.Warn("reading snapshot", errors.Wrapf(err, "reading %s", key))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if !json.Valid([]byte(raw)) {
		c.logger.Warn("reading snapshot", errors.Errorf("corrupt snapshot %s", key))
		return nil, false
	}
	return json.RawMessage(raw), true
}

// Get decodes the snapshot stored under key into dst.
func (c *Cache) Get(key string, dst interface{}) bool {
	raw, ok := c.GetRaw(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("reading snapshot", errors.Wrapf(err, "decoding %s", key))
		return false
	}
	return true
}

// Remove drops the snapshot stored under key.
func (c *Cache) Remove(key string) {
	if err := c.store.Remove(cacheKey(key)); err != nil {
		c.logger.Warn("removing snapshot", errors.Wrapf(err, "removing %s", key))
	}
}

// FetchFunc loads the fresh value of a collection from the backend.
type FetchFunc func(ctx context.Context) (interface{}, error)

// Load reads a collection through the cache.
// A successful fetch refreshes the snapshot and is decoded into dst.
// When the fetch fails, the cached snapshot is decoded instead and stale is true.
// The fetch error is returned only when no snapshot is available either.
func (c *Cache) Load(ctx context.Context, key string, dst interface{}, fetch FetchFunc) (stale bool, err error) {
	v, fetchErr := fetch(ctx)
	if fetchErr == nil {
		data, err := json.Marshal(v)
		if err != nil {
			return false, errors.Wrapf(err, "encoding %s", key)
		}
		c.SetRaw(key, data)
		return false, errors.Wrapf(json.Unmarshal(data, dst), "decoding %s", key)
	}

	if c.Get(key, dst) {
		c.logger.Info("serving cached snapshot", map[string]interface{}{"key": key, "error": fetchErr.Error()})
		return true, nil
	}
	return false, errors.Wrapf(fetchErr, "fetching %s", key)
}
