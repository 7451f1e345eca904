package storage

import (
	"context"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// GCS stores objects in a Google Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCS creates a GCS store using CredentialsFile when set, otherwise
// application default credentials
func NewGCS(ctx context.Context, cfg Config) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "gcs bucket is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create GCS client")
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Open reads key
func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(joinKey(g.prefix, key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrapf(err, errors.ErrorTypeNotFound, "object %s not found", g.URL(key))
		}
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to read %s", g.URL(key))
	}
	return r, nil
}

// Create returns a resumable upload finalized by Close
func (g *GCS) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	return &gcsWriter{w: g.bucket.Object(joinKey(g.prefix, key)).NewWriter(ctx), url: g.URL(key)}, nil
}

type gcsWriter struct {
	w   *storage.Writer
	url string
}

func (w *gcsWriter) Write(p []byte) (int, error) { return w.w.Write(p) }

func (w *gcsWriter) Close() error {
	if err := w.w.Close(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to upload %s", w.url)
	}
	return nil
}

// List iterates the objects under prefix
func (g *GCS) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: listPrefix(g.prefix, prefix)})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to list gs://%s/%s", g.name, g.prefix)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:      relativeKey(g.prefix, attrs.Name),
			Size:     attrs.Size,
			Modified: attrs.Updated,
		})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Delete removes key
func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(joinKey(g.prefix, key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to delete %s", g.URL(key))
	}
	return nil
}

// Ping reads the bucket's attributes
func (g *GCS) Ping(ctx context.Context) error {
	if _, err := g.bucket.Attrs(ctx); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "bucket %s is not accessible", g.name)
	}
	return nil
}

// URL returns the gs:// location of key
func (g *GCS) URL(key string) string {
	return "gs://" + g.name + "/" + joinKey(g.prefix, key)
}

// Close releases the client
func (g *GCS) Close() error {
	return g.client.Close()
}
