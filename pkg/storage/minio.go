// Package storage 提供了与对象存储服务（MinIO）交互的功能，用于镜像流水线产物。
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"querytube-go/internal/config"
	"querytube-go/pkg/log"
)

// Store 把本地文件上传到指定存储桶的前缀下，或从中下载。
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewStore 初始化 MinIO 客户端并确保存储桶存在。
func NewStore(ctx context.Context, cfg config.MinIOConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("[Storage] 存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}
	log.Infof("[Storage] MinIO 客户端初始化成功, bucket: %s", cfg.BucketName)
	return &Store{client: client, bucket: cfg.BucketName, prefix: cfg.Prefix}, nil
}

// ObjectName 返回本地文件对应的对象名：<prefix>/<runID>/<文件名>。
func (s *Store) ObjectName(runID, localPath string) string {
	return path.Join(s.prefix, runID, filepath.Base(localPath))
}

// Upload 上传本地文件，返回对象名。
func (s *Store) Upload(ctx context.Context, runID, localPath string) (string, error) {
	object := s.ObjectName(runID, localPath)
	info, err := s.client.FPutObject(ctx, s.bucket, object, localPath, minio.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("上传 %s 失败: %w", localPath, err)
	}
	log.Infof("[Storage] 已上传 %s -> %s/%s (%d bytes)", localPath, s.bucket, object, info.Size)
	return object, nil
}

// Download 把对象下载到 localPath，目录不存在时自动创建。
func (s *Store) Download(ctx context.Context, object, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	if err := s.client.FGetObject(ctx, s.bucket, object, localPath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("下载 %s 失败: %w", object, err)
	}
	log.Infof("[Storage] 已下载 %s/%s -> %s", s.bucket, object, localPath)
	return nil
}

// PresignedURL 生成对象的临时下载链接，供管理接口返回报告地址。
func (s *Store) PresignedURL(ctx context.Context, object string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, object, expiry, nil)
	if err != nil {
		log.Errorf("[Storage] 生成预签名链接失败: %v", err)
		return "", err
	}
	return u.String(), nil
}
