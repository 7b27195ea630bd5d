package publish

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var _ Publisher = (*S3Publisher)(nil)

// S3Publisher stores artifacts in an S3-compatible bucket.
type S3Publisher struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	prefix        string
	expiry        time.Duration
}

// NewS3Publisher creates a publisher with static credentials. Path-style
// addressing is used unless URLStyle is "vhost".
func NewS3Publisher(cfg S3Config, prefix string, expiry time.Duration) (*S3Publisher, error) {
	if cfg.KeyID == "" || cfg.Secret == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 config is incomplete")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, ""),
		UsePathStyle: cfg.URLStyle != "vhost",
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
	}
	client := s3.New(opts)
	return &S3Publisher{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		prefix:        prefix,
		expiry:        expiry,
	}, nil
}

// Publish uploads the artifact and presigns a GET for it.
func (p *S3Publisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // artifact path from the results directory
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck

	objKey := objectKey(p.prefix, key)
	if _, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objKey),
		Body:        f,
		ContentType: aws.String("text/csv"),
	}); err != nil {
		return "", fmt.Errorf("upload %q to s3://%s: %w", objKey, p.bucket, err)
	}
	return p.PresignGet(ctx, key)
}

// PresignGet returns a presigned GET URL for an already published key.
func (p *S3Publisher) PresignGet(ctx context.Context, key string) (string, error) {
	objKey := objectKey(p.prefix, key)
	result, err := p.presignClient.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(objKey),
		},
		s3.WithPresignExpires(p.expiry),
	)
	if err != nil {
		return "", fmt.Errorf("presign GetObject for %q: %w", objKey, err)
	}
	return result.URL, nil
}

// Remove deletes the object.
func (p *S3Publisher) Remove(ctx context.Context, key string) error {
	objKey := objectKey(p.prefix, key)
	if _, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objKey),
	}); err != nil {
		return fmt.Errorf("delete %q from s3://%s: %w", objKey, p.bucket, err)
	}
	return nil
}
