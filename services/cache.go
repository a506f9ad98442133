package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nodewatch/config"
	"nodewatch/models"
)

const (
	CacheKeyNodeList    = "nodeList"
	CacheKeyNodesStats  = "nodesStats"
	CacheKeyHeightStats = "nodeHeightStats"

	redisKeyPrefix = "nodewatch:"
)

// Cache is a small typed read cache. Set replaces the value by reference;
// readers get either the previous or the new value, never a mix.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
}

// ReadCaches holds what the API serves between cycles.
type ReadCaches struct {
	Nodes   Cache[[]*models.Node]
	Stats   Cache[*models.NodesStats]
	Heights Cache[*models.NodeHeightStats]
}

// NewReadCaches builds memory-only caches, or Redis-mirrored ones when client is set.
func NewReadCaches(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ReadCaches {
	if client == nil {
		return &ReadCaches{
			Nodes:   NewMemoryCache[[]*models.Node](),
			Stats:   NewMemoryCache[*models.NodesStats](),
			Heights: NewMemoryCache[*models.NodeHeightStats](),
		}
	}
	return &ReadCaches{
		Nodes:   NewTieredCache[[]*models.Node](client, ttl, logger),
		Stats:   NewTieredCache[*models.NodesStats](client, ttl, logger),
		Heights: NewTieredCache[*models.NodeHeightStats](client, ttl, logger),
	}
}

// MemoryCache is the in-process Cache.
type MemoryCache[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewMemoryCache[T any]() *MemoryCache[T] {
	return &MemoryCache[T]{items: make(map[string]T)}
}

func (c *MemoryCache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *MemoryCache[T]) Set(key string, value T) {
	c.mu.Lock()
	c.items[key] = value
	c.mu.Unlock()
}

// TieredCache serves reads from memory and mirrors writes to Redis so other
// API replicas can read the latest cycle. A miss in memory falls through to
// Redis; Redis errors never fail a Set.
type TieredCache[T any] struct {
	memory *MemoryCache[T]
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewTieredCache[T any](client *redis.Client, ttl time.Duration, logger *zap.Logger) *TieredCache[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredCache[T]{
		memory: NewMemoryCache[T](),
		redis:  client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *TieredCache[T]) Get(key string) (T, bool) {
	if v, ok := c.memory.Get(key); ok {
		return v, true
	}

	var zero T
	if c.redis == nil {
		return zero, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return zero, false
	}
	if err != nil {
		c.logger.Debug("redis GET failed", zap.String("key", key), zap.Error(err))
		return zero, false
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		c.logger.Warn("redis value could not be decoded", zap.String("key", key), zap.Error(err))
		return zero, false
	}
	c.memory.Set(key, v)
	return v, true
}

func (c *TieredCache[T]) Set(key string, value T) {
	c.memory.Set(key, value)
	if c.redis == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value could not be encoded", zap.String("key", key), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.redis.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis SET failed, value kept in memory only", zap.String("key", key), zap.Error(err))
	}
}

// NewRedisClient connects to Redis when enabled. It returns nil, without an
// error, when Redis is disabled.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	options := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   3,
	}
	if cfg.UseTLS {
		options.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}

	logger.Info("Redis connected", zap.String("address", cfg.Address), zap.Bool("tls", cfg.UseTLS))
	return client, nil
}
