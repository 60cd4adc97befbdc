package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"strings"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/finrag/internal/model"
	"github.com/kart-io/finrag/pkg/utils/json"
)

// QueryCacheConfig 回答缓存配置。
type QueryCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
	// Namespace 区分不同索引，通常为索引的 BuildID，重建后旧缓存自然失效。
	Namespace string
}

// QueryCache 问答结果缓存。
type QueryCache struct {
	redis  *goredis.Client
	config *QueryCacheConfig
}

// NewQueryCache 创建回答缓存实例。
func NewQueryCache(redis *goredis.Client, config *QueryCacheConfig) *QueryCache {
	if config == nil {
		config = &QueryCacheConfig{
			Enabled:   false,
			TTL:       10 * time.Minute,
			KeyPrefix: "finrag:answer:",
		}
	}
	return &QueryCache{
		redis:  redis,
		config: config,
	}
}

// Enabled 报告缓存是否可用。
func (c *QueryCache) Enabled() bool {
	return c != nil && c.config.Enabled && c.redis != nil
}

// SetNamespace 设置命名空间，索引就绪后调用。
func (c *QueryCache) SetNamespace(ns string) {
	if c != nil {
		c.config.Namespace = ns
	}
}

// generateCacheKey 基于问题生成缓存键（SHA256），问题先去掉首尾空白。
func (c *QueryCache) generateCacheKey(question string) string {
	hash := sha256.Sum256([]byte(strings.TrimSpace(question)))
	key := c.config.KeyPrefix
	if c.config.Namespace != "" {
		key += c.config.Namespace + ":"
	}
	return key + hex.EncodeToString(hash[:])
}

// Get 从缓存读取回答，未命中时返回 (nil, nil)。
func (c *QueryCache) Get(ctx context.Context, question string) (*model.AnswerResult, error) {
	if !c.Enabled() {
		return nil, nil
	}

	cacheKey := c.generateCacheKey(question)

	data, err := c.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if stderrors.Is(err, goredis.Nil) {
			logger.Debugw("answer cache miss", "key", cacheKey)
			return nil, nil
		}
		logger.Warnw("failed to get from answer cache", "error", err.Error(), "key", cacheKey)
		return nil, err
	}

	var result model.AnswerResult
	if err := json.Unmarshal(data, &result); err != nil {
		logger.Warnw("failed to unmarshal cached answer", "error", err.Error(), "key", cacheKey)
		// 删除损坏的缓存
		_ = c.redis.Del(ctx, cacheKey).Err()
		return nil, err
	}

	logger.Debugw("answer cache hit", "key", cacheKey, "answer_length", len(result.Answer))
	return &result, nil
}

// Set 写入回答。
func (c *QueryCache) Set(ctx context.Context, question string, result *model.AnswerResult) error {
	if !c.Enabled() {
		return nil
	}

	cacheKey := c.generateCacheKey(question)

	data, err := json.Marshal(result)
	if err != nil {
		logger.Warnw("failed to marshal answer for caching", "error", err.Error())
		return err
	}

	if err := c.redis.Set(ctx, cacheKey, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to set answer cache", "error", err.Error(), "key", cacheKey)
		return err
	}

	logger.Debugw("cached answer", "key", cacheKey, "ttl", c.config.TTL.String())
	return nil
}

// Clear 清除所有回答缓存，返回删除的键数。
func (c *QueryCache) Clear(ctx context.Context) (int, error) {
	if !c.Enabled() {
		return 0, nil
	}

	// 使用 SCAN 查找匹配的键
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()

	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		logger.Warnw("error during cache scan", "error", err.Error())
		return deleted, err
	}

	logger.Infow("cleared answer cache", "deleted_count", deleted)
	return deleted, nil
}

// CacheStats 缓存统计。
type CacheStats struct {
	Enabled   bool   `json:"enabled"`
	KeyCount  int    `json:"key_count,omitempty"`
	TTL       string `json:"ttl,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// Stats 统计缓存键数量。
func (c *QueryCache) Stats(ctx context.Context) (*CacheStats, error) {
	if !c.Enabled() {
		return &CacheStats{Enabled: false}, nil
	}

	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	keyCount := 0
	for iter.Next(ctx) {
		keyCount++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return &CacheStats{
		Enabled:   true,
		KeyCount:  keyCount,
		TTL:       c.config.TTL.String(),
		KeyPrefix: c.config.KeyPrefix,
	}, nil
}
