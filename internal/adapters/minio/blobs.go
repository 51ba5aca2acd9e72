// Package minio stores function source in an S3-compatible bucket.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"service-sopm/internal/config"
)

// BlobStore keeps objects in one bucket. References are object keys.
type BlobStore struct {
	client *minio.Client
	bucket string
	lg     zerolog.Logger
}

// New connects to the endpoint and creates the bucket when missing.
func New(ctx context.Context, cfg config.Config, lg zerolog.Logger) (*BlobStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	b := &BlobStore{client: client, bucket: cfg.MinioBucket, lg: lg.With().Str("adapter", "minio").Logger()}
	if err := b.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *BlobStore) ensureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", b.bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	b.lg.Info().Str("bucket", b.bucket).Msg("bucket created")
	return nil
}

func (b *BlobStore) Bucket() string { return b.bucket }

func (b *BlobStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		return "", fmt.Errorf("put %s/%s: %w", b.bucket, key, err)
	}
	b.lg.Debug().Str("key", key).Int("bytes", len(data)).Msg("object stored")
	return key, nil
}

func (b *BlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", b.bucket, ref, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", b.bucket, ref, err)
	}
	return data, nil
}

func (b *BlobStore) Delete(ctx context.Context, ref string) error {
	if err := b.client.RemoveObject(ctx, b.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s/%s: %w", b.bucket, ref, err)
	}
	return nil
}

func (b *BlobStore) Ping(ctx context.Context) error {
	_, err := b.client.BucketExists(ctx, b.bucket)
	return err
}
