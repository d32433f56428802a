// Package archive mirrors materialized artifacts to an S3 compatible
// object store.
package archive

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kiranshivaraju/genrelay/internal/config"
)

// Archiver stores a local file under <job>/<run>/<file>.
type Archiver interface {
	Put(ctx context.Context, jobID, runID, localPath string) (string, error)
}

// MinIOArchiver writes to one bucket.
type MinIOArchiver struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchiver connects and creates the bucket if it does not exist.
func NewMinIOArchiver(ctx context.Context, cfg config.ArchiveConfig) (*MinIOArchiver, error) {
	if strings.Contains(cfg.Endpoint, "://") {
		return nil, fmt.Errorf("archive endpoint must not include scheme: %q", cfg.Endpoint)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure archive bucket: %w", err)
	}
	return &MinIOArchiver{client: client, bucket: cfg.Bucket}, nil
}

// ObjectKey returns the key an artifact is archived under.
func ObjectKey(jobID, runID, localPath string) string {
	return path.Join(sanitize(jobID), sanitize(runID), sanitize(filepath.Base(localPath)))
}

func (a *MinIOArchiver) Put(ctx context.Context, jobID, runID, localPath string) (string, error) {
	key := ObjectKey(jobID, runID, localPath)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(localPath)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	putCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	if _, err := a.client.FPutObject(putCtx, a.bucket, key, localPath, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return key, nil
}

// Stat reports whether key exists in the bucket.
func (a *MinIOArchiver) Stat(ctx context.Context, key string) (bool, error) {
	_, err := a.client.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ Archiver = (*MinIOArchiver)(nil)
