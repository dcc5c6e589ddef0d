package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ecousins25/ogmash-v2/config"
	"github.com/ecousins25/ogmash-v2/logger"
	"github.com/ecousins25/ogmash-v2/model"
	"github.com/ecousins25/ogmash-v2/storage"
)

// errBadRange 表示 Range 头格式错误或请求区间无法满足
var errBadRange = errors.New("unsatisfiable range")

// BlobStore 是音频对象存储的抽象，由 storage.Store 实现
type BlobStore interface {
	Stat(ctx context.Context, path string) (model.BlobInfo, error)
	ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error)
	ReadAll(ctx context.Context, path string) (io.ReadCloser, error)
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
}

// DeliveryHandler 负责音频字节范围分发
type DeliveryHandler struct {
	store BlobStore
	cfg   *config.Config
}

// NewDeliveryHandler 创建 DeliveryHandler 实例
func NewDeliveryHandler(store BlobStore, cfg *config.Config) *DeliveryHandler {
	return &DeliveryHandler{store: store, cfg: cfg}
}

// byteRange 是解析后的请求区间，两端包含
type byteRange struct {
	start int64
	end   int64
}

// parseRange 解析 "bytes=<start>-<end>?" 形式的 Range 头。
// end 缺省时取 size-1，超出时收缩到 size-1；
// start 非法、start>end 或 start>=size 一律视为无法满足。
func parseRange(header string, size int64) (byteRange, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return byteRange{}, errBadRange
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return byteRange{}, errBadRange
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, errBadRange
	}

	end := size - 1
	if s := strings.TrimSpace(endStr); s != "" {
		end, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return byteRange{}, errBadRange
		}
	}
	if end > size-1 {
		end = size - 1
	}

	if start > end || start >= size {
		return byteRange{}, errBadRange
	}

	return byteRange{start: start, end: end}, nil
}

// ServeAudio 处理 /audio/<path> 的音频请求。
// 带 Range 头时返回 206 和精确的字节切片，否则返回完整对象。
func (h *DeliveryHandler) ServeAudio(w http.ResponseWriter, r *http.Request) {
	escaped := strings.TrimPrefix(r.URL.EscapedPath(), "/audio/")
	objectPath, err := url.PathUnescape(escaped)
	if err != nil || objectPath == "" {
		http.Error(w, "Invalid audio path", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	info, err := h.store.Stat(ctx, objectPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("音频对象不存在", logger.String("path", objectPath))
			http.Error(w, "Audio not found", http.StatusNotFound)
			return
		}
		logger.Error("查询音频对象失败",
			logger.String("path", objectPath),
			logger.ErrorField(err))
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", audioContentType(objectPath, info.ContentType))
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "public, max-age=2592000") // 缓存30天

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		h.serveFull(ctx, w, objectPath, info)
		return
	}

	h.serveRange(ctx, w, objectPath, info, rangeHeader)
}

// serveRange 按 Range 头返回 206 Partial Content
func (h *DeliveryHandler) serveRange(ctx context.Context, w http.ResponseWriter, path string, info model.BlobInfo, rangeHeader string) {
	rng, err := parseRange(rangeHeader, info.Size)
	if err != nil {
		logger.Warn("无法满足的 Range 请求",
			logger.String("path", path),
			logger.String("range", rangeHeader),
			logger.Int64("size", info.Size))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", info.Size))
		http.Error(w, "Range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	chunkSize := rng.end - rng.start + 1
	data, err := h.store.ReadRange(ctx, path, rng.start, rng.end)
	if err != nil {
		logger.Error("读取音频切片失败",
			logger.String("path", path),
			logger.Int64("start", rng.start),
			logger.Int64("end", rng.end),
			logger.ErrorField(err))
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, info.Size))
	w.Header().Set("Content-Length", strconv.FormatInt(chunkSize, 10))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := w.Write(data); err != nil {
		logger.Error("写入响应失败", logger.ErrorField(err))
	}
}

// serveFull 无 Range 头时流式返回完整对象
func (h *DeliveryHandler) serveFull(ctx context.Context, w http.ResponseWriter, path string, info model.BlobInfo) {
	object, err := h.store.ReadAll(ctx, path)
	if err != nil {
		logger.Error("打开音频对象失败",
			logger.String("path", path),
			logger.ErrorField(err))
		http.Error(w, "Storage error", http.StatusInternalServerError)
		return
	}
	defer object.Close()

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, object); err != nil {
		logger.Error("写入响应失败",
			logger.String("path", path),
			logger.ErrorField(err))
	}
}

// audioContentType 根据对象路径推断音频类型，存储端已有类型时优先使用
func audioContentType(path, stored string) string {
	if stored != "" && stored != "application/octet-stream" {
		return stored
	}
	switch {
	case strings.HasSuffix(path, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(path, ".flac"):
		return "audio/flac"
	case strings.HasSuffix(path, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(path, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(path, ".m4a"):
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
