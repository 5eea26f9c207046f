package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-envsensor/internal/models"

	"go.uber.org/zap"
)

// LiveCacheConfig 实时缓存配置
type LiveCacheConfig struct {
	KeyPrefix    string
	LatestTTL    time.Duration
	StreamMaxLen int64
}

// LiveCache 最新读数 + 有界读数流
//
//	<prefix>:latest  最新一条读数 JSON
//	<prefix>:stream  读数流（MAXLEN ~ StreamMaxLen）
type LiveCache struct {
	kv     KVStore
	cfg    LiveCacheConfig
	logger *zap.Logger
}

// NewLiveCache 创建实时缓存
func NewLiveCache(kv KVStore, cfg LiveCacheConfig, logger *zap.Logger) *LiveCache {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "envsensor"
	}
	if cfg.StreamMaxLen <= 0 {
		cfg.StreamMaxLen = 100
	}
	return &LiveCache{kv: kv, cfg: cfg, logger: logger}
}

func (c *LiveCache) latestKey() string { return c.cfg.KeyPrefix + ":latest" }

// StreamKey 读数流名称
func (c *LiveCache) StreamKey() string { return c.cfg.KeyPrefix + ":stream" }

// Put 写入最新读数并追加到读数流
func (c *LiveCache) Put(ctx context.Context, r models.Reading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}
	if err := c.kv.Set(ctx, c.latestKey(), string(data), c.cfg.LatestTTL); err != nil {
		return fmt.Errorf("failed to set latest reading: %w", err)
	}
	if err := c.kv.AppendStream(ctx, c.StreamKey(), r, c.cfg.StreamMaxLen); err != nil {
		return fmt.Errorf("failed to append reading stream: %w", err)
	}
	return nil
}

// Latest 读取缓存的最新读数；不存在时返回 ErrCacheMiss
func (c *LiveCache) Latest(ctx context.Context) (models.Reading, error) {
	val, err := c.kv.Get(ctx, c.latestKey())
	if err != nil {
		return models.Reading{}, err
	}
	var r models.Reading
	if err := json.Unmarshal([]byte(val), &r); err != nil {
		c.logger.Warn("Corrupt latest reading in cache", zap.Error(err))
		return models.Reading{}, ErrCacheMiss
	}
	return r, nil
}
