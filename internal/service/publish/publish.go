// Package publish copies finished export artifacts to object storage and
// hands out time-limited download URLs for them.
package publish

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Store names accepted by New.
const (
	StoreNone  = ""
	StoreS3    = "s3"
	StoreAzure = "azure"
	StoreGCS   = "gcs"
)

// DefaultExpiry is the lifetime of a presigned download URL.
const DefaultExpiry = time.Hour

// Publisher uploads artifacts and removes them again on eviction.
// Implementations: S3Publisher, AzurePublisher, GCSPublisher.
type Publisher interface {
	// Publish uploads localPath under key and returns a presigned GET URL.
	Publish(ctx context.Context, localPath, key string) (string, error)
	// Remove deletes the object stored under key.
	Remove(ctx context.Context, key string) error
}

// S3Config configures an S3-compatible target.
type S3Config struct {
	Endpoint string
	Region   string
	KeyID    string
	Secret   string
	Bucket   string
	URLStyle string // "path" (default) or "vhost"
}

// AzureConfig configures an Azure Blob Storage target.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	Container   string
}

// GCSConfig configures a Google Cloud Storage target.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
}

// Config selects one target.
type Config struct {
	Store  string
	Prefix string
	Expiry time.Duration
	S3     S3Config
	Azure  AzureConfig
	GCS    GCSConfig
}

// New returns the configured Publisher, or nil when publishing is disabled.
func New(ctx context.Context, cfg Config) (Publisher, error) {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	switch strings.ToLower(cfg.Store) {
	case StoreNone, "none":
		return nil, nil
	case StoreS3:
		return NewS3Publisher(cfg.S3, cfg.Prefix, cfg.Expiry)
	case StoreAzure:
		return NewAzurePublisher(cfg.Azure, cfg.Prefix, cfg.Expiry)
	case StoreGCS:
		return NewGCSPublisher(ctx, cfg.GCS, cfg.Prefix, cfg.Expiry)
	default:
		return nil, fmt.Errorf("unsupported artifact store %q", cfg.Store)
	}
}

// objectKey joins the configured prefix and the artifact name.
func objectKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}
