// Package objstore stores source PDFs and rendered crops in S3-compatible
// object storage, or on the local filesystem for development.
package objstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const storageScheme = "s3://"

// DefaultPrefix is the key prefix for uploaded source documents.
const DefaultPrefix = "ocr"

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrInvalidStorageKey is returned for storage keys not of the form
	// s3://bucket/key.
	ErrInvalidStorageKey = errors.New("storage_key format must be s3://bucket/key")
)

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename replaces runs of unsafe characters with '-'.
func SanitizeFilename(filename string) string {
	cleaned := strings.Trim(unsafeFilename.ReplaceAllString(filename, "-"), "-")
	if cleaned == "" {
		return "file.pdf"
	}
	return cleaned
}

// BuildObjectKey returns prefix/YYYY/MM/DD/<nonce>-<filename> for a new upload.
func BuildObjectKey(filename, prefix string) string {
	return buildObjectKey(filename, prefix, time.Now().UTC(), uuid.New())
}

func buildObjectKey(filename, prefix string, now time.Time, id uuid.UUID) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	nonce := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("%s/%s/%s-%s", prefix, now.Format("2006/01/02"), nonce, SanitizeFilename(filename))
}

// BuildStorageKey returns s3://bucket/key.
func BuildStorageKey(bucket, key string) string {
	return storageScheme + bucket + "/" + key
}

// ParseStorageKey splits s3://bucket/key.
func ParseStorageKey(storageKey string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(storageKey, storageScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: missing s3:// scheme", ErrInvalidStorageKey)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", ErrInvalidStorageKey
	}
	return bucket, key, nil
}
