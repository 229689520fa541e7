// storage.go - Object storage adapter for uploaded files.
package server

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectInfo describes where a stored upload lives.
type ObjectInfo struct {
	Bucket    string
	Key       string
	ETag      string
	VersionID string
}

// BlobStorage stores uploaded files under random opaque keys.
// Store surfaces object-store errors unchanged and performs no retry;
// a caller that decides to roll back must call Remove itself.
type BlobStorage interface {
	Store(ctx context.Context, r io.Reader, size int64, contentType string) (ObjectInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// MinioStorage is the MinIO-backed BlobStorage.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinioClient connects to the blob store and ensures the bucket exists.
func NewMinioClient(ctx context.Context, endpoint, accessKey, secretKey, bucket string) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
		}
	}

	return client, nil
}

// NewMinioStorage wraps a connected client and target bucket.
func NewMinioStorage(client *minio.Client, bucket string) *MinioStorage {
	return &MinioStorage{client: client, bucket: bucket}
}

// newObjectKey generates the random key an upload is stored under.
// uuid v4 keys are drawn from crypto/rand, so collisions are negligible.
func newObjectKey() string {
	return uuid.NewString()
}

func (m *MinioStorage) Store(ctx context.Context, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	key := newObjectKey()
	info, err := m.client.PutObject(ctx, m.bucket, key, r, size,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: put %s: %v", ErrUploadFailed, key, err)
	}
	return ObjectInfo{
		Bucket:    m.bucket,
		Key:       key,
		ETag:      info.ETag,
		VersionID: info.VersionID,
	}, nil
}

func (m *MinioStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat forces the first request so a missing
	// key fails here instead of on first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, err
	}
	return obj, nil
}

func (m *MinioStorage) Remove(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}
