package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlement/config"
)

// ObjectStore persists fetched result assets under stable keys.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	ObjectExists(ctx context.Context, key string) (bool, error)
	ObjectURL(key string) string
}

// S3Store implements ObjectStore on top of an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	cfg    config.S3Config
	logger logrus.FieldLogger
}

func NewS3Store(ctx context.Context, cfg config.S3Config, logger logrus.FieldLogger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// Path-style addressing for MinIO and other non-AWS endpoints.
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, cfg: cfg, logger: logger}, nil
}

// PutObject writes the body to the bucket and returns the public URL of the
// stored object. Size may be -1 when the length is unknown up front.
func (s *S3Store) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: put object %s: %w", key, err)
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": s.cfg.Bucket,
		"key":    key,
		"size":   size,
	}).Info("stored object")

	return s.ObjectURL(key), nil
}

// ObjectExists reports whether the key is already present in the bucket.
func (s *S3Store) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("storage: head object %s: %w", key, err)
	}
	return true, nil
}

// ObjectURL builds the public URL for a stored key.
func (s *S3Store) ObjectURL(key string) string {
	base := s.cfg.PublicBaseURL
	if base == "" {
		if s.cfg.EndpointURL != "" {
			base = fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.EndpointURL, "/"), s.cfg.Bucket)
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.Bucket, s.cfg.Region)
		}
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), key)
}
