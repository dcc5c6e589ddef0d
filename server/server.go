package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ecousins25/ogmash-v2/cache"
	"github.com/ecousins25/ogmash-v2/config"
	"github.com/ecousins25/ogmash-v2/logger"
	"github.com/ecousins25/ogmash-v2/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogOutputPath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   true,
	})

	// 初始化 MinIO 客户端
	store, err := storage.NewStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize MinIO", logger.ErrorField(err))
	}

	// Redis 只承担边缘缓存，连不上时降级为直读存储
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, edge cache disabled", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
		logger.Info("Successfully connected to Redis")
	}

	ensureDirExists(cfg.MediaDir)

	// 初始化处理器
	manifestHandler := NewManifestHandler(store, cfg)
	deliveryHandler := NewDeliveryHandler(store, cfg)
	hub := NewHub()

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Range, Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 音乐清单与音频分发端点
	router.HandleFunc("/getMusicList", manifestHandler.ServeManifest).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)
	router.PathPrefix("/audio/").HandlerFunc(deliveryHandler.ServeAudio).Methods(http.MethodGet, http.MethodHead, http.MethodOptions)

	// 曲库变更推送
	router.HandleFunc("/ws/library", hub.HandleLibraryWS)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// 启动媒体目录监听
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()

	watcher := NewLibraryWatcher(store, cfg, hub)
	if err := watcher.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start library watcher", logger.ErrorField(err))
	}

	// 启动时重建一次清单，保证冷启动也有可用的音乐列表
	if err := watcher.RebuildManifest(watchCtx); err != nil {
		logger.Warn("Initial manifest build failed", logger.ErrorField(err))
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.ServerAddr))
		logger.Info("Music list via GET /getMusicList")
		logger.Info("Audio bytes via GET /audio/<path> (Range supported)")
		logger.Info("Library updates via WS /ws/library")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("Shutting down server...")

	cancelWatch()
	hub.Close()

	// 优雅关闭服务器
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info("Creating directory", logger.String("path", path))
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("Failed to create directory", logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("Failed to check directory", logger.String("path", path), logger.ErrorField(err))
	}
}
