// Package minio implements objstore.Store on MinIO and other S3-compatible servers.
package minio

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kailas-cloud/vecbench/internal/objstore"
)

var _ objstore.Store = (*Store)(nil)

// Config holds the endpoint (host:port) and static credentials.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Store streams whole objects through a minio client.
type Store struct {
	client *minio.Client
}

// New connects to the endpoint. No request is made until first use.
func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Download(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, mapErr(bucket, key, err)
	}
	defer func() { _ = obj.Close() }()

	n, err := io.Copy(io.NewOffsetWriter(w, 0), obj)
	if err != nil {
		return n, mapErr(bucket, key, err)
	}
	return n, nil
}

func (s *Store) Upload(ctx context.Context, bucket, key string, r io.Reader) error {
	_, err := s.client.PutObject(ctx, bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

// mapErr turns a missing key into objstore.ErrNotFound. GetObject is lazy,
// so the error usually surfaces on the first read.
func mapErr(bucket, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: minio://%s/%s", objstore.ErrNotFound, bucket, key)
	}
	return err
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	default:
		return false
	}
}
