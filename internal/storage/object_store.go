package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"genboard/engine/internal/bucket"
	"genboard/engine/internal/config"
)

// URLSigner issues a time-limited access URL for one stored blob.
type URLSigner interface {
	SignURL(ctx context.Context, bucketName, objectKey string, ttl time.Duration) (string, error)
}

type ObjectStore struct {
	client *minio.Client
	cfg    config.StorageConfig
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	return &ObjectStore{
		client: client,
		cfg:    cfg,
	}, nil
}

// EnsureBuckets creates every bucket the inference rules can produce.
func (s *ObjectStore) EnsureBuckets(ctx context.Context) error {
	for _, name := range bucket.Names() {
		exists, err := s.client.BucketExists(ctx, name)
		if err != nil {
			return fmt.Errorf("bucket exists %s: %w", name, err)
		}
		if !exists {
			if err := s.client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
	}
	return nil
}

func (s *ObjectStore) SignURL(ctx context.Context, bucketName, objectKey string, ttl time.Duration) (string, error) {
	signed, err := s.client.PresignedGetObject(ctx, bucketName, objectKey, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucketName, objectKey, err)
	}
	return signed.String(), nil
}

func (s *ObjectStore) Remove(ctx context.Context, bucketName, objectKey string) error {
	if err := s.client.RemoveObject(ctx, bucketName, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s/%s: %w", bucketName, objectKey, err)
	}
	return nil
}
