package artifacts

import (
	"context"
)

type s3Putter interface {
	PutPublicObject(ctx context.Context, bucket, key string, body []byte, contentType, cacheControl string) error
}

// S3Store writes public-read objects to an S3 bucket.
type S3Store struct {
	client s3Putter
	bucket string
}

func NewS3Store(client s3Putter, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, opts PutOptions) error {
	return s.client.PutPublicObject(ctx, s.bucket, key, data, opts.ContentType, opts.CacheControl)
}
