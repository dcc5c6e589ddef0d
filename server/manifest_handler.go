package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ecousins25/ogmash-v2/cache"
	"github.com/ecousins25/ogmash-v2/config"
	"github.com/ecousins25/ogmash-v2/logger"
	"github.com/ecousins25/ogmash-v2/storage"
)

// ManifestHandler 提供 /getMusicList 音乐清单，
// 支持条件请求（ETag / Last-Modified）和 Redis 边缘缓存
type ManifestHandler struct {
	store BlobStore
	cfg   *config.Config
}

// NewManifestHandler 创建 ManifestHandler 实例
func NewManifestHandler(store BlobStore, cfg *config.Config) *ManifestHandler {
	return &ManifestHandler{store: store, cfg: cfg}
}

// weakETag 由清单的最后修改时间派生弱 ETag
func weakETag(lastModified time.Time) string {
	return fmt.Sprintf(`W/"%x"`, lastModified.Unix())
}

// notModified 判断客户端缓存是否仍然有效。
// If-None-Match 存在时优先，If-Modified-Since 仅作兜底。
func notModified(r *http.Request, etag string, lastModified time.Time) bool {
	if match := r.Header.Get("If-None-Match"); match != "" {
		return match == etag
	}
	if since := r.Header.Get("If-Modified-Since"); since != "" {
		t, err := http.ParseTime(since)
		if err == nil && !lastModified.Truncate(time.Second).After(t) {
			return true
		}
	}
	return false
}

// ServeManifest 处理 /getMusicList 请求
func (h *ManifestHandler) ServeManifest(w http.ResponseWriter, r *http.Request) {
	requestURL := r.URL.String()

	// 先查边缘缓存，命中时完全绕过 blob 存储
	if cached, ok := cache.GetManifestCache(requestURL); ok {
		h.writeManifest(w, r, cached.Body, cached.ETag, cached.LastModified)
		return
	}

	ctx := r.Context()

	info, err := h.store.Stat(ctx, h.cfg.ManifestPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("音乐清单不存在", logger.String("path", h.cfg.ManifestPath))
			http.Error(w, "Music list not found", http.StatusNotFound)
			return
		}
		logger.Error("查询音乐清单失败", logger.ErrorField(err))
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}

	etag := weakETag(info.LastModified)

	// 客户端副本仍然有效时不需要读取清单内容
	if notModified(r, etag, info.LastModified) {
		h.writeHeaders(w, etag, info.LastModified)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	object, err := h.store.ReadAll(ctx, h.cfg.ManifestPath)
	if err != nil {
		logger.Error("读取音乐清单失败", logger.ErrorField(err))
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	defer object.Close()

	body, err := io.ReadAll(object)
	if err != nil {
		logger.Error("读取音乐清单内容失败", logger.ErrorField(err))
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}

	// 成功响应写入边缘缓存，直到新上传使其失效
	cache.SetManifestCache(requestURL, cache.CachedResponse{
		Body:         body,
		ETag:         etag,
		LastModified: info.LastModified,
	})

	h.writeManifest(w, r, body, etag, info.LastModified)
}

// writeManifest 输出清单响应体，或在客户端缓存有效时返回 304
func (h *ManifestHandler) writeManifest(w http.ResponseWriter, r *http.Request, body []byte, etag string, lastModified time.Time) {
	h.writeHeaders(w, etag, lastModified)

	if notModified(r, etag, lastModified) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		logger.Error("写入清单响应失败", logger.ErrorField(err))
	}
}

func (h *ManifestHandler) writeHeaders(w http.ResponseWriter, etag string, lastModified time.Time) {
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Cache-Control", "public, max-age=3600") // 缓存1小时
}
