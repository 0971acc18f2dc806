package cache

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"go.uber.org/zap"
)

// persistItem is the serializable form of a cache entry.
type persistItem struct {
	Value      interface{} `json:"value"`
	Expiration int64       `json:"expiration"`
}

// FilePersistentCache provides a simple file-backed persistent cache so
// computed metric results survive process restarts.
type FilePersistentCache struct {
	store    map[string]persistItem
	mutex    sync.RWMutex
	ttl      time.Duration
	filePath string
	logger   *zap.Logger
}

// NewFilePersistentCache creates a new persistent cache with a default TTL
// and file path, loading any previously saved entries.
func NewFilePersistentCache(defaultTTL time.Duration, filePath string, logger *zap.Logger) *FilePersistentCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &FilePersistentCache{
		store:    make(map[string]persistItem),
		ttl:      defaultTTL,
		filePath: filePath,
		logger:   logger.With(zap.String("component", "file_cache")),
	}
	c.loadFromFile()
	go c.cleanupLoop(10 * time.Minute)
	return c
}

// loadFromFile loads cache items from the file.
func (c *FilePersistentCache) loadFromFile() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	raw, err := os.ReadFile(c.filePath)
	if err != nil {
		return
	}
	if err := json.Unmarshal(raw, &c.store); err != nil {
		c.logger.Warn("failed to decode persisted cache, starting empty", zap.Error(err))
		c.store = make(map[string]persistItem)
	}
}

// saveLocked writes the store to disk. Callers must hold the mutex.
func (c *FilePersistentCache) saveLocked() {
	raw, err := json.Marshal(c.store)
	if err != nil {
		c.logger.Warn("failed to encode cache", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.filePath, raw, 0o644); err != nil {
		c.logger.Warn("failed to persist cache", zap.Error(err))
	}
}

// Get retrieves an item from the cache.
func (c *FilePersistentCache) Get(ctx context.Context, key string) (interface{}, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, err
	}

	c.mutex.RLock()
	item, found := c.store[key]
	c.mutex.RUnlock()

	if !found {
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item not found", nil))
	}
	if time.Now().UnixNano() > item.Expiration {
		c.logger.Debug("persistent cache item expired", zap.String("key", key))
		return nil, errbuilder.NotFoundErr(errbuilder.GenericErr("cache item expired", nil))
	}
	return item.Value, nil
}

// Set adds or updates an item in the cache and persists the store.
func (c *FilePersistentCache) Set(ctx context.Context, key string, value interface{}) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.store[key] = persistItem{
		Value:      value,
		Expiration: time.Now().Add(c.ttl).UnixNano(),
	}
	c.saveLocked()
	return nil
}

// cleanupLoop periodically removes expired items and saves the file.
func (c *FilePersistentCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		c.mutex.Lock()
		now := time.Now().UnixNano()
		for key, item := range c.store {
			if now > item.Expiration {
				delete(c.store, key)
			}
		}
		c.saveLocked()
		c.mutex.Unlock()
	}
}
