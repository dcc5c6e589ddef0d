package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ecousins25/ogmash-v2/logger"

	"github.com/go-redis/redis/v8"
)

// CachedResponse 是写入边缘缓存的清单响应快照，
// 以完整请求URL为键，命中时可以完全绕过 blob 存储。
type CachedResponse struct {
	Body         []byte    `json:"body"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"lastModified"`
}

const (
	edgeKeyPrefix = "edge:"
	// 清单缓存与 HTTP Cache-Control 保持同一时效
	manifestTTL = time.Hour
)

// edgeKey 根据完整请求URL生成缓存键
func edgeKey(url string) string {
	return edgeKeyPrefix + url
}

// SetManifestCache 将成功的清单响应写入边缘缓存。
// 缓存只是优化，写入失败不影响请求结果。
func SetManifestCache(url string, resp CachedResponse) {
	if RedisClient == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(resp)
	if err != nil {
		logger.Error("序列化清单缓存失败", logger.ErrorField(err))
		return
	}

	if err := RedisClient.Set(ctx, edgeKey(url), payload, manifestTTL).Err(); err != nil {
		logger.Warn("写入清单缓存失败",
			logger.String("url", url),
			logger.ErrorField(err))
		return
	}

	logger.Debug("清单缓存写入成功",
		logger.String("url", url),
		logger.Int("bodySize", len(resp.Body)))
}

// GetManifestCache 读取边缘缓存的清单响应。
// 未命中或 Redis 出错都返回 (nil, false)，由调用方继续查找 blob 存储。
func GetManifestCache(url string) (*CachedResponse, bool) {
	if RedisClient == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := RedisClient.Get(ctx, edgeKey(url)).Bytes()
	if err != nil {
		if err == redis.Nil {
			logger.Debug("清单缓存未命中", logger.String("url", url))
			return nil, false
		}
		// Redis 故障时退回 blob 存储，不向上抛错
		logger.Warn("读取清单缓存失败，回退到存储",
			logger.String("url", url),
			logger.ErrorField(err))
		return nil, false
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		logger.Error("解析清单缓存失败",
			logger.String("url", url),
			logger.ErrorField(err))
		return nil, false
	}

	return &resp, true
}

// InvalidateManifest 删除所有清单缓存键。
// 新文件上传产生新的 Last-Modified 后必须调用。
func InvalidateManifest() {
	if RedisClient == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	iter := RedisClient.Scan(ctx, 0, edgeKeyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Warn("扫描清单缓存键失败", logger.ErrorField(err))
		return
	}

	if len(keys) == 0 {
		return
	}

	if err := RedisClient.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("删除清单缓存失败", logger.ErrorField(err))
		return
	}

	logger.Info("清单缓存已失效", logger.Int("keys", len(keys)))
}
