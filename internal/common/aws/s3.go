package aws

import (
	"bytes"
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Client struct {
	client *s3.Client
}

// NewS3Client builds a client. A non-empty endpoint selects an S3 compatible
// service with path-style addressing.
func NewS3Client(ctx context.Context, region, endpoint string) (*S3Client, error) {
	cfg, err := LoadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = awssdk.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Client{client: client}, nil
}

// PutPublicObject uploads body with public-read visibility.
func (s *S3Client) PutPublicObject(ctx context.Context, bucket, key string, body []byte, contentType, cacheControl string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        awssdk.String(bucket),
		Key:           awssdk.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: awssdk.Int64(int64(len(body))),
		ContentType:   awssdk.String(contentType),
		CacheControl:  awssdk.String(cacheControl),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	return err
}
