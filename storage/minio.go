package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ecousins25/ogmash-v2/config"
	"github.com/ecousins25/ogmash-v2/logger"
	"github.com/ecousins25/ogmash-v2/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound 表示请求的对象在存储桶中不存在
var ErrNotFound = errors.New("storage: object not found")

// Store 封装 MinIO 存储桶，提供按字节范围读取音频对象的能力
type Store struct {
	client *minio.Client
	bucket string
}

// NewStore 初始化 MinIO 客户端并确保存储桶存在
func NewStore(cfg *config.Config) (*Store, error) {
	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket),
		logger.String("region", cfg.MinioRegion))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 检查存储桶是否存在，不存在则创建
	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		err = client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{
			Region: cfg.MinioRegion,
		})
		if err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("✅ 成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	} else {
		logger.Info("✅ 存储桶已存在", logger.String("bucket", cfg.MinioBucket))
	}

	return &Store{client: client, bucket: cfg.MinioBucket}, nil
}

// Stat 返回对象的大小、类型和最后修改时间；对象不存在时返回 ErrNotFound
func (s *Store) Stat(ctx context.Context, path string) (model.BlobInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return model.BlobInfo{}, ErrNotFound
		}
		return model.BlobInfo{}, fmt.Errorf("stat object %s: %w", path, err)
	}

	return model.BlobInfo{
		Path:         path,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// ReadRange 精确读取对象的 [start, end] 字节区间（两端包含）。
// 只向存储请求所需的切片，绝不整体拉取大对象。
func (s *Store) ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, fmt.Errorf("set range %d-%d: %w", start, end, err)
	}

	object, err := s.client.GetObject(ctx, s.bucket, path, opts)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read range %d-%d of %s: %w", start, end, path, err)
	}
	return data, nil
}

// ReadAll 以流的形式打开整个对象，调用方负责关闭
func (s *Store) ReadAll(ctx context.Context, path string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	return object, nil
}

// Put 上传对象到存储桶
func (s *Store) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", path, err)
	}

	logger.Debug("对象上传成功",
		logger.String("path", path),
		logger.Int64("size", size),
		logger.String("contentType", contentType))
	return nil
}

// isNoSuchKey 判断 MinIO 错误是否为对象不存在
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
