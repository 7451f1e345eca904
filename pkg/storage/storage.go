// Package storage abstracts the places file connectors read and write
// objects: the local filesystem, Amazon S3 and Google Cloud Storage. Keys
// are slash separated and relative to the store's root (a directory, or a
// bucket plus prefix).
package storage

import (
	"context"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// Scheme names a storage backend
type Scheme string

const (
	SchemeLocal Scheme = "file"
	SchemeS3    Scheme = "s3"
	SchemeGCS   Scheme = "gs"
)

// ObjectInfo describes a stored object
type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
}

// Store reads and writes objects
type Store interface {
	// Open returns the contents of key
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Create returns a writer for key. The object appears, replacing any
	// previous one, only once Close returns without error.
	Create(ctx context.Context, key string) (io.WriteCloser, error)
	// List returns the objects whose key starts with prefix, ordered by key
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// Ping checks the store is reachable
	Ping(ctx context.Context) error
	// URL returns the location of key for logs and metadata
	URL(key string) string
	Close() error
}

// Config selects and configures a store
type Config struct {
	Scheme Scheme `mapstructure:"scheme"`
	// Bucket is the S3 or GCS bucket
	Bucket string `mapstructure:"bucket"`
	// Prefix is the root of keys: a directory for local stores, a key
	// prefix in buckets
	Prefix string `mapstructure:"prefix"`

	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	// PathStyle addresses S3 buckets by path, as MinIO and LocalStack need
	PathStyle bool `mapstructure:"path_style"`
	// PartSize and Concurrency tune S3 multipart uploads
	PartSize    int64 `mapstructure:"part_size"`
	Concurrency int   `mapstructure:"concurrency"`

	// CredentialsFile is a GCS service account key; other stores use the
	// SDK default credential chain
	CredentialsFile string `mapstructure:"credentials_file"`
}

// ParseURL parses "s3://bucket/prefix", "gs://bucket/prefix",
// "file:///dir" or a plain path into a Config
func ParseURL(raw string) (Config, error) {
	if raw == "" {
		return Config{}, errors.New(errors.ErrorTypeConfig, "storage url is empty")
	}
	if !strings.Contains(raw, "://") {
		return Config{Scheme: SchemeLocal, Prefix: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid storage url %q", raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		return Config{Scheme: SchemeLocal, Prefix: u.Host + u.Path}, nil
	case "s3", "s3a":
		return bucketConfig(SchemeS3, u, raw)
	case "gs", "gcs":
		return bucketConfig(SchemeGCS, u, raw)
	default:
		return Config{}, errors.Newf(errors.ErrorTypeConfig, "unsupported storage scheme %q", u.Scheme)
	}
}

func bucketConfig(scheme Scheme, u *url.URL, raw string) (Config, error) {
	if u.Host == "" {
		return Config{}, errors.Newf(errors.ErrorTypeConfig, "storage url %q has no bucket", raw)
	}
	return Config{Scheme: scheme, Bucket: u.Host, Prefix: strings.TrimPrefix(u.Path, "/")}, nil
}

// Open creates the store cfg describes
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Scheme {
	case SchemeLocal, "":
		return NewLocal(cfg.Prefix)
	case SchemeS3:
		return NewS3(ctx, cfg)
	case SchemeGCS:
		return NewGCS(ctx, cfg)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported storage scheme %q", cfg.Scheme)
	}
}

// joinKey joins a bucket prefix and a key
func joinKey(prefix, key string) string {
	if prefix == "" {
		return strings.TrimPrefix(key, "/")
	}
	return path.Join(prefix, key)
}

// relativeKey strips a bucket prefix from an object name
func relativeKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return strings.TrimPrefix(strings.TrimPrefix(name, strings.TrimSuffix(prefix, "/")), "/")
}

// listPrefix is the object name prefix listing prefix under a bucket prefix
func listPrefix(root, prefix string) string {
	if prefix == "" && root != "" {
		return root + "/"
	}
	return joinKey(root, prefix)
}
