package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

var _ Publisher = (*GCSPublisher)(nil)

// GCSPublisher stores artifacts in a Google Cloud Storage bucket and hands
// out V4 signed URLs.
type GCSPublisher struct {
	client *storage.Client
	bucket string
	prefix string
	expiry time.Duration
}

// NewGCSPublisher creates a publisher authenticated with a service account
// key file.
func NewGCSPublisher(ctx context.Context, cfg GCSConfig, prefix string, expiry time.Duration) (*GCSPublisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS bucket is required")
	}
	if cfg.CredentialsFile == "" {
		return nil, fmt.Errorf("GCS credentials file is required")
	}
	client, err := storage.NewClient(ctx, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSPublisher{client: client, bucket: cfg.Bucket, prefix: prefix, expiry: expiry}, nil
}

// Publish uploads the artifact and returns a signed GET URL.
func (p *GCSPublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // artifact path from the results directory
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck

	objKey := objectKey(p.prefix, key)
	w := p.client.Bucket(p.bucket).Object(objKey).NewWriter(ctx)
	w.ContentType = "text/csv"
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %q to gs://%s: %w", objKey, p.bucket, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %q in gs://%s: %w", objKey, p.bucket, err)
	}

	signedURL, err := p.client.Bucket(p.bucket).SignedURL(objKey, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(p.expiry),
	})
	if err != nil {
		return "", fmt.Errorf("sign GetObject for %q: %w", objKey, err)
	}
	return signedURL, nil
}

// Remove deletes the object.
func (p *GCSPublisher) Remove(ctx context.Context, key string) error {
	objKey := objectKey(p.prefix, key)
	if err := p.client.Bucket(p.bucket).Object(objKey).Delete(ctx); err != nil {
		return fmt.Errorf("delete %q from gs://%s: %w", objKey, p.bucket, err)
	}
	return nil
}
