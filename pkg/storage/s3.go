package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/storyloom/storyloom/pkg/config"
)

// S3Store uploads illustrations to an S3-compatible bucket. Works against
// AWS and against MinIO when an endpoint override is configured.
type S3Store struct {
	client    *s3.Client
	bucket    string
	region    string
	publicURL string

	probeOnce sync.Once
	probeErr  error
}

// NewS3Store creates an S3-backed Store from storage configuration.
// Credentials come from the standard AWS environment chain.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:    client,
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

// Upload implements Store. The bucket existence probe runs once per
// process and is cached, success or failure.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.probeOnce.Do(func() {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &s.bucket})
		if err != nil {
			s.probeErr = fmt.Errorf("bucket %q is not accessible: %w", s.bucket, err)
		}
	})
	if s.probeErr != nil {
		return "", s.probeErr
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.urlFor(key), nil
}

func (s *S3Store) urlFor(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
