// Package storage holds document artifacts in an object store or on disk.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"trustcenter.dev/internal/config"
)

var (
	// ErrObjectNotFound is returned when a key has no stored artifact.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrPresignUnsupported is returned by providers that can only stream.
	ErrPresignUnsupported = errors.New("storage: presigned urls unsupported")
)

// Object describes a stored artifact.
type Object struct {
	Key         string
	Size        int64
	ContentType string
}

// Provider is a blob backend.
type Provider interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Stat(ctx context.Context, key string) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, Object, error)
	Presign(ctx context.Context, key, fileName string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// FromConfig builds the provider named by cfg.Provider.
func FromConfig(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Provider {
	case "", "local":
		return NewLocal(cfg.LocalDir)
	case "s3":
		return NewS3(ctx, cfg)
	case "minio":
		return NewMinio(cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// ObjectKey builds the key for a document version's artifact.
func ObjectKey(documentID string, version int, fileName string) string {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "document"
	}
	return fmt.Sprintf("documents/%s/v%d/%s", documentID, version, base)
}

func fullPath(basePath, key string) string {
	basePath = strings.Trim(basePath, "/")
	if basePath == "" {
		return key
	}
	return basePath + "/" + strings.TrimPrefix(key, "/")
}

func attachmentDisposition(fileName string) string {
	if fileName == "" {
		return "attachment"
	}
	return fmt.Sprintf("attachment; filename=%q", path.Base(fileName))
}
