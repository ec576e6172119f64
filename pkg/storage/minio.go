// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"chara-chat-go/internal/config"
	"chara-chat-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store 定义了角色图片所需的对象存储操作。
type Store interface {
	// Upload 上传一个对象并返回其可公开访问的 URL。
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
	// Remove 删除一个对象。
	Remove(ctx context.Context, objectName string) error
	// PresignedURL 为对象生成一个临时访问 URL。
	PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

type minioStore struct {
	client *minio.Client
	cfg    config.MinIOConfig
}

// NewStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewStore(cfg config.MinIOConfig) (Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	// 检查存储桶是否存在，如果不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}

	log.Info("MinIO 客户端初始化成功")
	return &minioStore{client: client, cfg: cfg}, nil
}

// Upload 将对象写入存储桶并返回公开 URL。
func (s *minioStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.cfg.BucketName, objectName, reader, size, opts); err != nil {
		return "", fmt.Errorf("上传对象 '%s' 失败: %w", objectName, err)
	}
	return s.publicURL(objectName), nil
}

// Remove 删除存储桶中的对象。
func (s *minioStore) Remove(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.cfg.BucketName, objectName, minio.RemoveObjectOptions{})
}

// PresignedURL 为对象生成一个带过期时间的访问 URL。
func (s *minioStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.cfg.BucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("生成预签名 URL 失败: %s", err)
		return "", err
	}
	return u.String(), nil
}

// publicURL 拼接对象的公开访问 URL。存储桶需配置为公开读取。
func (s *minioStore) publicURL(objectName string) string {
	base := strings.TrimRight(s.cfg.PublicBaseURL, "/")
	if base == "" {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, s.cfg.Endpoint, s.cfg.BucketName)
	}
	return base + "/" + strings.TrimLeft(objectName, "/")
}
