package storage

import (
	"context"
	"errors"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ObjectRemover deletes objects from Cloud Storage.
type ObjectRemover struct {
	client *gcs.Client
	bucket string
}

// NewObjectRemover constructs an ObjectRemover for bucket.
func NewObjectRemover(client *gcs.Client, bucket string) (*ObjectRemover, error) {
	if client == nil {
		return nil, errors.New("storage remover: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	return &ObjectRemover{client: client, bucket: bucket}, nil
}

// DeletePrefix removes every object under prefix and reports how many were deleted.
// Objects that disappear concurrently are not treated as failures.
func (r *ObjectRemover) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if r == nil || r.client == nil {
		return 0, errors.New("storage remover: client is not initialised")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return 0, errors.New("storage remover: refusing to delete an empty prefix")
	}

	bucket := r.client.Bucket(r.bucket)
	it := bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	removed := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return removed, nil
		}
		if err != nil {
			return removed, err
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return removed, err
		}
		removed++
	}
}
