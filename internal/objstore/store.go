package objstore

import (
	"context"
	"time"
)

// DefaultPresignExpiry is how long presigned URLs stay valid.
const DefaultPresignExpiry = 15 * time.Minute

// Store is a single bucket of objects.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// PresignGet returns a URL that fetches key without credentials.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// StorageKey returns the s3://bucket/key form of key.
	StorageKey(key string) string
	Bucket() string
}
