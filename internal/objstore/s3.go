package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures an S3 store.
type S3Config struct {
	// Endpoint is a host[:port] or URL. Empty means AWS in Region.
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Logger          *slog.Logger
}

// S3 is a Store backed by an S3-compatible service.
type S3 struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ Store = (*S3)(nil)

// NewS3 creates an S3 store. Credentials and a bucket are required.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3 credentials missing: set access_key_id and secret_access_key")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is not set")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.Region)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &S3{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("bucket", cfg.Bucket),
	}, nil
}

// splitEndpoint turns an endpoint setting into the host and TLS flag the
// client expects.
func splitEndpoint(endpoint, region string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Sprintf("s3.%s.amazonaws.com", region), true, nil
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", false, fmt.Errorf("invalid S3 endpoint %q", endpoint)
	}
	return u.Host, u.Scheme == "https", nil
}

// Bucket returns the bucket name.
func (s *S3) Bucket() string { return s.bucket }

// WithBucket returns a store for another bucket sharing the same client.
func (s *S3) WithBucket(bucket string) *S3 {
	if bucket == "" || bucket == s.bucket {
		return s
	}
	return &S3{client: s.client, bucket: bucket, logger: s.logger.With("bucket", bucket)}
}

// StorageKey returns s3://bucket/key.
func (s *S3) StorageKey(key string) string { return BuildStorageKey(s.bucket, key) }

// Put uploads body under key.
func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	s.logger.Debug("object stored", "key", key, "bytes", len(body))
	return nil
}

// Get downloads key.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapS3Error(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapS3Error(key, err)
	}
	return data, nil
}

// Delete removes key. Missing keys are not an error.
func (s *S3) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return mapS3Error(key, err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for key.
func (s *S3) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func mapS3Error(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", key, err)
}
