package storage

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

const (
	defaultPartSize    = 10 * 1024 * 1024
	defaultConcurrency = 5
)

// S3 stores objects in an Amazon S3 (or compatible) bucket
type S3 struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3 creates an S3 store. Credentials come from the SDK's default
// chain: environment, shared config or instance role.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3WithClient(client, cfg), nil
}

func newS3WithClient(client *s3.Client, cfg Config) *S3 {
	partSize := cfg.PartSize
	if partSize < manager.MinUploadPartSize {
		partSize = defaultPartSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &S3{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = partSize
			u.Concurrency = concurrency
		}),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

// Open downloads key as a stream
func (s *S3) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, errors.Wrapf(err, errors.ErrorTypeNotFound, "object %s not found", s.URL(key))
		}
		return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to get %s", s.URL(key))
	}
	return out.Body, nil
}

// Create streams writes into a multipart upload that completes on Close
func (s *S3) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(joinKey(s.prefix, key)),
			Body:   pr,
		})
		if err != nil {
			err = errors.Wrapf(err, errors.ErrorTypeConnection, "failed to upload %s", s.URL(key))
		}
		// Unblock writers if the upload gave up early
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w, nil
}

type s3Writer struct {
	pw     *io.PipeWriter
	done   chan error
	err    error
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	_ = w.pw.Close()
	w.err = <-w.done
	return w.err
}

// List pages through the objects under prefix
func (s *S3) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(listPrefix(s.prefix, prefix)),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConnection, "failed to list s3://%s/%s", s.bucket, s.prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, ObjectInfo{
				Key:      relativeKey(s.prefix, key),
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// Delete removes key
func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(joinKey(s.prefix, key)),
	})
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to delete %s", s.URL(key))
	}
	return nil
}

// Ping checks the bucket is accessible
func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConnection, "bucket %s is not accessible", s.bucket)
	}
	return nil
}

// URL returns the s3:// location of key
func (s *S3) URL(key string) string {
	return "s3://" + s.bucket + "/" + joinKey(s.prefix, key)
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (s *S3) Close() error { return nil }
