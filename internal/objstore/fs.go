package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// LocalBucket is the bucket name reported by a Filesystem store.
const LocalBucket = "local"

// Filesystem is a Store rooted at a local directory. Presigned URLs are
// file:// URLs and never expire.
type Filesystem struct {
	root   string
	bucket string
}

var _ Store = (*Filesystem)(nil)

// NewFilesystem creates the root directory if needed. An empty bucket
// defaults to LocalBucket.
func NewFilesystem(root, bucket string) (*Filesystem, error) {
	if bucket == "" {
		bucket = LocalBucket
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}
	return &Filesystem{root: abs, bucket: bucket}, nil
}

func (f *Filesystem) Bucket() string { return f.bucket }

func (f *Filesystem) StorageKey(key string) string { return BuildStorageKey(f.bucket, key) }

// path maps key into the root, refusing keys that escape it.
func (f *Filesystem) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *Filesystem) Put(_ context.Context, key string, body []byte, _ string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (f *Filesystem) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

func (f *Filesystem) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (f *Filesystem) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	p, err := f.path(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String(), nil
}
