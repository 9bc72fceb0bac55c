package minio

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"mediaconv/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// maxPresignExpiry is the S3 limit for presigned URLs.
const maxPresignExpiry = 7 * 24 * time.Hour

func NewClient(c *config.Config) (*minio.Client, error) {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, c.Minio.BucketName)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", c.Minio.BucketName, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, c.Minio.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", c.Minio.BucketName, err)
		}
	}

	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.String("bucket", c.Minio.BucketName), zap.Bool("bucketExisted", exists))
	return client, nil
}

// Store stages artifacts as objects in one bucket. The staged ref is the object key.
type Store struct {
	client *minio.Client
	bucket string
}

func NewStore(client *minio.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

func (s *Store) Put(ctx context.Context, key, localPath, contentType string) (string, error) {
	info, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("minio put %s: %w", key, err)
	}

	zap.L().Debug("minio object stored", zap.String("key", info.Key), zap.Int64("size", info.Size))
	return info.Key, nil
}

// Delete is idempotent: removing a missing object succeeds.
func (s *Store) Delete(ctx context.Context, ref string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio delete %s: %w", ref, err)
	}
	return nil
}

func (s *Store) URL(ctx context.Context, ref string, expiry time.Duration) (string, error) {
	if expiry <= 0 || expiry > maxPresignExpiry {
		expiry = maxPresignExpiry
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucket, ref, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("minio presign %s: %w", ref, err)
	}
	return u.String(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
