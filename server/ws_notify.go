package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ecousins25/ogmash-v2/cache"
	"github.com/ecousins25/ogmash-v2/config"
	"github.com/ecousins25/ogmash-v2/logger"
	"github.com/ecousins25/ogmash-v2/model"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// libraryEvent 是推送给客户端的曲库变更通知
type libraryEvent struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// Hub 维护所有订阅曲库变更的 websocket 连接
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewHub 创建 Hub 实例
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]bool)}
}

// HandleLibraryWS 处理 /ws/library 的订阅连接
func (h *Hub) HandleLibraryWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	logger.Info("曲库订阅连接建立", logger.String("remote", conn.RemoteAddr().String()))

	// 客户端不发送有效数据，读循环只为感知连接关闭
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast 向所有连接推送事件，写失败的连接直接剔除
func (h *Hub) Broadcast(event libraryEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error("序列化曲库事件失败", logger.ErrorField(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Warn("websocket write", logger.ErrorField(err))
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[conn] {
		conn.Close()
		delete(h.conns, conn)
	}
}

// Close 关闭所有连接
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.Close()
	}
	h.conns = make(map[*websocket.Conn]bool)
}

// LibraryWatcher 监听本地媒体目录，新文件出现后上传到存储桶、
// 重建清单、使边缘缓存失效并向订阅者推送变更
type LibraryWatcher struct {
	store BlobStore
	cfg   *config.Config
	hub   *Hub
}

// NewLibraryWatcher 创建 LibraryWatcher 实例
func NewLibraryWatcher(store BlobStore, cfg *config.Config, hub *Hub) *LibraryWatcher {
	return &LibraryWatcher{store: store, cfg: cfg, hub: hub}
}

// Start 启动目录监听，ctx 取消时退出
func (w *LibraryWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建目录监听失败: %w", err)
	}

	if err := watcher.Add(w.cfg.MediaDir); err != nil {
		watcher.Close()
		return fmt.Errorf("监听媒体目录失败: %w", err)
	}

	logger.Info("媒体目录监听已启动", logger.String("dir", w.cfg.MediaDir))

	go func() {
		defer watcher.Close()

		// 同一文件的 Create/Write 事件会连续出现，去抖后统一处理
		pending := make(map[string]time.Time)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case event := <-watcher.Events:
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isAudioFile(event.Name) {
					pending[event.Name] = time.Now()
				}
			case <-ticker.C:
				for path, seen := range pending {
					if time.Since(seen) < time.Second {
						continue
					}
					delete(pending, path)
					w.ingest(ctx, path)
				}
			case err := <-watcher.Errors:
				logger.Warn("目录监听错误", logger.ErrorField(err))
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

// ingest 上传单个音频文件并刷新清单
func (w *LibraryWatcher) ingest(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		logger.Warn("打开媒体文件失败", logger.String("path", path), logger.ErrorField(err))
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		logger.Warn("读取媒体文件信息失败", logger.String("path", path), logger.ErrorField(err))
		return
	}

	objectPath, err := filepath.Rel(w.cfg.MediaDir, path)
	if err != nil {
		objectPath = filepath.Base(path)
	}
	objectPath = filepath.ToSlash(objectPath)

	uploadCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := w.store.Put(uploadCtx, objectPath, f, fi.Size(), audioContentType(objectPath, "")); err != nil {
		logger.Error("上传音频对象失败",
			logger.String("path", objectPath),
			logger.ErrorField(err))
		return
	}

	logger.Info("新音频已入库",
		logger.String("path", objectPath),
		logger.Int64("size", fi.Size()))

	if err := w.RebuildManifest(ctx); err != nil {
		logger.Error("重建音乐清单失败", logger.ErrorField(err))
		return
	}

	// 新的 Last-Modified 使共享缓存失效
	cache.InvalidateManifest()
	w.hub.Broadcast(libraryEvent{Type: "libraryUpdated", Path: objectPath})
}

// RebuildManifest 扫描媒体目录生成清单并上传到存储桶
func (w *LibraryWatcher) RebuildManifest(ctx context.Context) error {
	manifest := model.Manifest{GeneratedAt: time.Now().UTC()}

	err := filepath.Walk(w.cfg.MediaDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() || !isAudioFile(path) {
			return err
		}

		rel, err := filepath.Rel(w.cfg.MediaDir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)

		manifest.Songs = append(manifest.Songs, model.Song{
			ID:      rel,
			Path:    rel,
			Name:    songName(rel),
			Genre:   songGenre(rel),
			Version: "1",
			// 不做解码，按 192kbps 估算时长，够客户端的字节率换算用
			Duration: float64(fi.Size()) / 24000.0,
			Size:     fi.Size(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("扫描媒体目录失败: %w", err)
	}

	body, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("序列化清单失败: %w", err)
	}

	putCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := w.store.Put(putCtx, w.cfg.ManifestPath, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return fmt.Errorf("上传清单失败: %w", err)
	}

	logger.Info("音乐清单已更新", logger.Int("songs", len(manifest.Songs)))
	return nil
}

// songName 取文件名（不含扩展名）作为显示名
func songName(rel string) string {
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// songGenre 以一级子目录作为流派，根目录下的文件归为 unknown
func songGenre(rel string) string {
	dir := filepath.Dir(rel)
	if dir == "." {
		return "unknown"
	}
	parts := strings.Split(filepath.ToSlash(dir), "/")
	return parts[0]
}

// isAudioFile 判断是否为受支持的音频文件
func isAudioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".flac", ".ogg", ".wav", ".m4a":
		return true
	default:
		return false
	}
}
