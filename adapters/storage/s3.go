package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Skryldev/image-editor/core"
	apperrors "github.com/Skryldev/image-editor/errors"
)

// ErrObjectNotFound is returned by S3Client implementations for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// S3Client defines the minimal AWS S3 interface used by the adapter.
// NewAWSClient provides the aws-sdk-go-v2 implementation; tests inject doubles.
type S3Client interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, meta map[string]string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	HeadObject(ctx context.Context, bucket, key string) (bool, error)
}

// S3 is the StorageAdapter backed by AWS S3 (or S3-compatible stores).  All
// editor buckets share one S3 bucket; the logical bucket becomes a key prefix.
type S3 struct {
	client S3Client
	bucket string
}

// NewS3 creates an S3 adapter.  client must not be nil.
func NewS3(client S3Client, bucket string) (*S3, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 storage: client must not be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	return &S3{client: client, bucket: bucket}, nil
}

func (s *S3) objectKey(op string, key core.StorageKey) (string, error) {
	prefix, err := sanitizeKey(key.Bucket)
	if err != nil {
		return "", apperrors.Validation(op, err)
	}
	name, err := sanitizeKey(key.Path)
	if err != nil {
		return "", apperrors.Validation(op, err)
	}
	return prefix + "/" + name, nil
}

func (s *S3) Put(ctx context.Context, key core.StorageKey, r io.Reader, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.put", err)
	}
	obj, err := s.objectKey("s3.put", key)
	if err != nil {
		return err
	}
	if err := s.client.PutObject(ctx, s.bucket, obj, r, meta); err != nil {
		return apperrors.Transient("s3.put", fmt.Errorf("%w: %v", apperrors.ErrStorageUnavailable, err))
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key core.StorageKey) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "s3.get", err)
	}
	obj, err := s.objectKey("s3.get", key)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.GetObject(ctx, s.bucket, obj)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, apperrors.New(apperrors.CategoryNotFound, "s3.get",
				fmt.Errorf("%w: %v", apperrors.ErrNotFound, key))
		}
		return nil, apperrors.Transient("s3.get", fmt.Errorf("%w: %v", apperrors.ErrStorageUnavailable, err))
	}
	return rc, nil
}

func (s *S3) Delete(ctx context.Context, key core.StorageKey) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", err)
	}
	obj, err := s.objectKey("s3.delete", key)
	if err != nil {
		return err
	}
	if err := s.client.DeleteObject(ctx, s.bucket, obj); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "s3.delete", err)
	}
	return nil
}

func (s *S3) Exists(ctx context.Context, key core.StorageKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	obj, err := s.objectKey("s3.exists", key)
	if err != nil {
		return false, err
	}
	ok, err := s.client.HeadObject(ctx, s.bucket, obj)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CategoryStorage, "s3.exists", err)
	}
	return ok, nil
}

var _ core.StorageAdapter = (*S3)(nil)
