package minio

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Storage stores and retrieves pipeline artifacts in a MinIO bucket.
type Storage struct {
	client    *minio.Client
	bucket    string
	urlExpiry time.Duration
	http      *http.Client
	logger    *zap.Logger
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	URLExpiry time.Duration
}

func NewStorage(cfg StorageConfig, logger *zap.Logger) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 72 * time.Hour
	}

	return &Storage{
		client:    client,
		bucket:    cfg.Bucket,
		urlExpiry: expiry,
		http:      &http.Client{Timeout: 10 * time.Minute},
		logger:    logger,
	}, nil
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("bucket created", zap.String("bucket", s.bucket))
	return nil
}

func (s *Storage) Upload(ctx context.Context, localPath, key string) (string, error) {
	contentType := mime.TypeByExtension(filepath.Ext(localPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Debug("object uploaded",
		zap.String("key", key),
		zap.Int64("size", info.Size))

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return presigned.String(), nil
}

func (s *Storage) UploadTree(ctx context.Context, localDir, keyPrefix string) ([]string, error) {
	var urls []string
	err := filepath.WalkDir(localDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		key := keyPrefix + "/" + filepath.ToSlash(rel)
		u, err := s.Upload(ctx, path, key)
		if err != nil {
			return err
		}
		urls = append(urls, u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upload tree %s: %w", localDir, err)
	}
	return urls, nil
}

// Download fetches urlOrKey into destPath. HTTP(S) URLs are streamed
// directly, local file paths are copied, anything else is treated as an
// object key in the configured bucket.
func (s *Storage) Download(ctx context.Context, urlOrKey, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	switch {
	case strings.HasPrefix(urlOrKey, "http://"), strings.HasPrefix(urlOrKey, "https://"):
		return s.downloadHTTP(ctx, urlOrKey, destPath)
	default:
		if _, err := os.Stat(urlOrKey); err == nil {
			return copyFile(urlOrKey, destPath)
		}
		if err := s.client.FGetObject(ctx, s.bucket, urlOrKey, destPath, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("fetch object %s: %w", urlOrKey, err)
		}
		return nil
	}
}

func (s *Storage) downloadHTTP(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", destPath, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
