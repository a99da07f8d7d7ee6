package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"trustcenter.dev/internal/config"
)

// MinioStorage stores artifacts in a MinIO (or any S3-compatible) bucket.
type MinioStorage struct {
	client   *minio.Client
	bucket   string
	basePath string
}

func NewMinio(cfg config.StorageConfig) (*MinioStorage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioStorage{client: client, bucket: cfg.Bucket, basePath: cfg.BasePath}, nil
}

func (m *MinioStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if size <= 0 {
		size = -1
	}
	_, err := m.client.PutObject(ctx, m.bucket, fullPath(m.basePath, key), body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("minio put %s: %w", key, err)
	}
	return nil
}

func (m *MinioStorage) Stat(ctx context.Context, key string) (Object, error) {
	info, err := m.client.StatObject(ctx, m.bucket, fullPath(m.basePath, key), minio.StatObjectOptions{})
	if err != nil {
		return Object{}, mapMinioError(key, err)
	}
	return Object{Key: key, Size: info.Size, ContentType: info.ContentType}, nil
}

func (m *MinioStorage) Open(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, fullPath(m.basePath, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, mapMinioError(key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, Object{}, mapMinioError(key, err)
	}
	return obj, Object{Key: key, Size: info.Size, ContentType: info.ContentType}, nil
}

func (m *MinioStorage) Presign(ctx context.Context, key, fileName string, ttl time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", attachmentDisposition(fileName))
	u, err := m.client.PresignedGetObject(ctx, m.bucket, fullPath(m.basePath, key), ttl, params)
	if err != nil {
		return "", fmt.Errorf("minio presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (m *MinioStorage) Delete(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucket, fullPath(m.basePath, key), minio.RemoveObjectOptions{})
}

func mapMinioError(key string, err error) error {
	if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return fmt.Errorf("minio %s: %w", key, err)
}
