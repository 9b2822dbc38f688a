// Package objectstore archives rendered print documents in MinIO.
package objectstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxdraft/pkg/circuitbreaker"
)

// Config holds MinIO connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Object describes a stored document.
type Object struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	ETag   string `json:"etag"`
	Size   int64  `json:"size"`
}

// Store uploads documents to one bucket. Uploads go through a circuit
// breaker so an unreachable MinIO fails fast.
type Store struct {
	client  *minio.Client
	bucket  string
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// New connects to MinIO. The breaker may be nil.
func New(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, breaker: breaker, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
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

// Put stores data under key, replacing any previous version.
func (s *Store) Put(ctx context.Context, key, contentType string, data []byte, meta map[string]string) (Object, error) {
	var info minio.UploadInfo
	upload := func(ctx context.Context) error {
		var err error
		info, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: meta,
		})
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, upload)
	} else {
		err = upload(ctx)
	}
	if err != nil {
		return Object{}, fmt.Errorf("upload %s/%s: %w", s.bucket, key, err)
	}

	s.logger.Debug("object stored",
		zap.String("bucket", s.bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size))
	return Object{Bucket: s.bucket, Key: key, ETag: info.ETag, Size: info.Size}, nil
}
