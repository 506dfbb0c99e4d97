// Package filestore defines the object storage interface used for schema
// snapshots. Callers depend only on this package, never on a provider
// package.
//
// Usage:
//
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	info, err := store.PutObject(ctx, cfg.Bucket, "ehr-main/schema.json", r, size, "application/json")
package filestore

import (
	"context"
	"io"
	"time"
)

// Store is implemented by every object storage provider.
type Store interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any held resources.
	Close() error

	// EnsureBucket creates bucket if it does not exist.
	EnsureBucket(ctx context.Context, bucket string) error

	// PutObject stores size bytes from r at key, replacing any existing
	// object. size may be -1 when unknown.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*ObjectInfo, error)

	// GetObject opens a streaming handle to the object at key inside bucket.
	// The caller MUST call Object.Close() after reading.
	GetObject(ctx context.Context, bucket, key string) (Object, error)

	// StatObject returns metadata for the object at key without
	// downloading its content.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// DeleteObject removes the object at key. Deleting a missing key is
	// not an error.
	DeleteObject(ctx context.Context, bucket, key string) error

	// ListObjects returns the objects in bucket that match opts.
	ListObjects(ctx context.Context, bucket string, opts ListOptions) ([]ObjectInfo, error)

	// PresignGetURL returns a time-limited URL that allows anyone to
	// download the object without credentials.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
