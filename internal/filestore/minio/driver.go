// Package minio provides a MinIO implementation of filestore.Store.
package minio

import (
	"context"
	"io"
	"strings"
	"time"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/koustreak/pha/internal/errs"
	"github.com/koustreak/pha/internal/filestore"
)

// Driver is a MinIO implementation of filestore.Store.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	client *miniogo.Client
	bucket string // probed by Ping
	region string
}

// New connects to MinIO, pings it, and creates cfg.Bucket if missing.
func New(ctx context.Context, cfg *filestore.Config) (*Driver, error) {
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create minio client", err)
	}

	d := &Driver{client: client, bucket: cfg.Bucket, region: cfg.Region}

	if err := d.Ping(ctx); err != nil {
		return nil, err
	}
	if cfg.Bucket != "" {
		if err := d.EnsureBucket(ctx, cfg.Bucket); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// --- filestore.Store implementation ---

// Ping checks the configured bucket, or lists buckets when none is set.
func (d *Driver) Ping(ctx context.Context) error {
	var err error
	if d.bucket != "" {
		_, err = d.client.BucketExists(ctx, d.bucket)
	} else {
		_, err = d.client.ListBuckets(ctx)
	}
	if err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close is a no-op: the SDK client holds no persistent connections.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := d.client.BucketExists(ctx, bucket)
	if err != nil {
		return mapError(err, "failed to check bucket")
	}
	if exists {
		return nil
	}

	err = d.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{Region: d.region})
	if err != nil {
		// Lost a creation race with another replica.
		if code := miniogo.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			return nil
		}
		return mapError(err, "failed to create bucket")
	}
	return nil
}

func (d *Driver) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) (*filestore.ObjectInfo, error) {
	info, err := d.client.PutObject(ctx, bucket, key, r, size, miniogo.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, mapError(err, "failed to put object")
	}

	return &filestore.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  contentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// ListObjects returns objects in bucket that match opts.
func (d *Driver) ListObjects(ctx context.Context, bucket string, opts filestore.ListOptions) ([]filestore.ObjectInfo, error) {
	listOpts := miniogo.ListObjectsOptions{
		Prefix:    opts.Prefix,
		Recursive: opts.Recursive,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // stops the listing goroutine on early return

	var results []filestore.ObjectInfo
	for obj := range d.client.ListObjects(ctx, bucket, listOpts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}

		results = append(results, filestore.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
			IsDir:        strings.HasSuffix(obj.Key, "/"),
		})

		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}
	return results, nil
}

// GetObject opens a streaming handle to the object at key inside bucket.
// The caller MUST call Object.Close() after reading.
func (d *Driver) GetObject(ctx context.Context, bucket, key string) (filestore.Object, error) {
	obj, err := d.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}

	// GetObject is lazy; Stat surfaces NoSuchKey.
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, mapError(err, "failed to stat object after get")
	}

	return &object{ReadCloser: obj, info: toInfo(stat)}, nil
}

func (d *Driver) StatObject(ctx context.Context, bucket, key string) (*filestore.ObjectInfo, error) {
	stat, err := d.client.StatObject(ctx, bucket, key, miniogo.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err, "failed to stat object")
	}
	return toInfo(stat), nil
}

// DeleteObject removes key from bucket. S3 reports success for missing keys.
func (d *Driver) DeleteObject(ctx context.Context, bucket, key string) error {
	if err := d.client.RemoveObject(ctx, bucket, key, miniogo.RemoveObjectOptions{}); err != nil {
		return mapError(err, "failed to delete object")
	}
	return nil
}

// PresignGetURL returns a time-limited public download URL for the object.
func (d *Driver) PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := d.client.PresignedGetObject(ctx, bucket, key, ttl, nil)
	if err != nil {
		return "", mapError(err, "failed to generate presigned URL")
	}
	return u.String(), nil
}

// --- internal types ---

func toInfo(stat miniogo.ObjectInfo) *filestore.ObjectInfo {
	return &filestore.ObjectInfo{
		Key:          stat.Key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		ETag:         stat.ETag,
		LastModified: stat.LastModified,
	}
}

// object wraps a MinIO GetObject response and exposes filestore.Object.
type object struct {
	io.ReadCloser
	info *filestore.ObjectInfo
}

func (o *object) Info() *filestore.ObjectInfo {
	return o.info
}

var _ filestore.Store = (*Driver)(nil)
