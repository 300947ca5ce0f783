package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const defaultPublicBaseURL = "https://storage.googleapis.com"

var (
	// ErrObjectNotFound is returned when the requested object does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")

	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errNoClient      = errors.New("storage: client is not initialised")
)

// BlobStore reads templates from and writes generated documents to Cloud Storage.
type BlobStore struct {
	client        *gcs.Client
	publicBaseURL string
	maxReadBytes  int64
	cacheControl  string
}

// BlobStoreOption customises BlobStore behaviour.
type BlobStoreOption func(*BlobStore)

// WithPublicBaseURL overrides the host documents are served from, e.g. a CDN in front
// of the bucket.
func WithPublicBaseURL(base string) BlobStoreOption {
	return func(s *BlobStore) {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			s.publicBaseURL = base
		}
	}
}

// WithMaxReadBytes caps the size of objects read into memory.
func WithMaxReadBytes(limit int64) BlobStoreOption {
	return func(s *BlobStore) {
		if limit > 0 {
			s.maxReadBytes = limit
		}
	}
}

// WithCacheControl sets the Cache-Control metadata of written objects.
func WithCacheControl(value string) BlobStoreOption {
	return func(s *BlobStore) {
		s.cacheControl = strings.TrimSpace(value)
	}
}

// NewBlobStore constructs a BlobStore backed by the provided Cloud Storage client.
func NewBlobStore(client *gcs.Client, opts ...BlobStoreOption) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage blob store: client is required")
	}
	s := &BlobStore{
		client:        client,
		publicBaseURL: defaultPublicBaseURL,
		maxReadBytes:  32 << 20,
		cacheControl:  "no-cache",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Fetch reads the whole object. Missing objects and buckets yield ErrObjectNotFound.
func (s *BlobStore) Fetch(ctx context.Context, bucket, object string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, errNoClient
	}
	bucket, object, err := normaliseLocation(bucket, object)
	if err != nil {
		return nil, err
	}

	reader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, object)
		}
		return nil, fmt.Errorf("storage: open gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, s.maxReadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("storage: read gs://%s/%s: %w", bucket, object, err)
	}
	if int64(len(data)) > s.maxReadBytes {
		return nil, fmt.Errorf("storage: gs://%s/%s exceeds %d bytes", bucket, object, s.maxReadBytes)
	}
	return data, nil
}

// Upsert writes the object, replacing any existing object with the same name.
func (s *BlobStore) Upsert(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if s == nil || s.client == nil {
		return errNoClient
	}
	bucket, object, err := normaliseLocation(bucket, object)
	if err != nil {
		return err
	}

	writer := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = strings.TrimSpace(contentType)
	writer.CacheControl = s.cacheControl
	writer.ChunkSize = 0

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write gs://%s/%s: %w", bucket, object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: finalise gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}

// PublicURL returns the stable address of an object.
func (s *BlobStore) PublicURL(bucket, object string) string {
	base := defaultPublicBaseURL
	if s != nil && s.publicBaseURL != "" {
		base = s.publicBaseURL
	}
	return PublicObjectURL(base, bucket, object)
}

// CheckBucket verifies the bucket is reachable with the current credentials.
func (s *BlobStore) CheckBucket(ctx context.Context, bucket string) error {
	if s == nil || s.client == nil {
		return errNoClient
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return errInvalidBucket
	}
	_, err := s.client.Bucket(bucket).Attrs(ctx)
	return err
}

// PublicObjectURL joins base, bucket and the escaped object path.
func PublicObjectURL(base, bucket, object string) string {
	segments := strings.Split(strings.TrimLeft(object, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(strings.TrimSpace(bucket)) + "/" + strings.Join(segments, "/")
}

func normaliseLocation(bucket, object string) (string, string, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", "", errInvalidBucket
	}
	object = strings.TrimLeft(strings.TrimSpace(object), "/")
	if object == "" {
		return "", "", errInvalidObject
	}
	return bucket, object, nil
}
