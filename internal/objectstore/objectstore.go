// Package objectstore wraps the object-store PutObject call behind a
// narrow interface (spec §6 "Object store").
package objectstore

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/panther-labs/panther/internal/apperrors"
)

// Putter is the outbound port the Sink depends on, following the
// teacher's hexagonal seam (internal/core.CacheRepository): the Sink
// never imports the AWS SDK directly.
type Putter interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, contentLength int64) error
}

// Getter is the inbound port the Dispatcher's pipeline-envelope path
// depends on to stream-read the newly arrived event files a notification
// points at.
type Getter interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// S3Store implements Putter over an *s3.Client.
type S3Store struct {
	client *s3.Client
}

// NewS3Store wraps client.
func NewS3Store(client *s3.Client) *S3Store {
	return &S3Store{client: client}
}

// Put uploads body to bucket/key with a gzip content type, per spec §4.G
// step 4 and §6.
func (s *S3Store) Put(ctx context.Context, bucket, key string, body io.Reader, contentLength int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String("application/gzip"),
		ContentLength: aws.Int64(contentLength),
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeSink, "put object %s/%s", bucket, key)
	}
	return nil
}

// Get opens a streaming reader over bucket/key. Callers must close it.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "get object %s/%s", bucket, key)
	}
	return out.Body, nil
}

var _ Putter = (*S3Store)(nil)
var _ Getter = (*S3Store)(nil)
