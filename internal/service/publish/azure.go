package publish

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

var _ Publisher = (*AzurePublisher)(nil)

// AzurePublisher stores artifacts in an Azure Blob Storage container and
// hands out SAS URLs. Only account-key authentication is supported.
type AzurePublisher struct {
	client    *azblob.Client
	container string
	prefix    string
	expiry    time.Duration
}

// NewAzurePublisher creates a publisher using a shared key credential.
func NewAzurePublisher(cfg AzureConfig, prefix string, expiry time.Duration) (*AzurePublisher, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" || cfg.Container == "" {
		return nil, fmt.Errorf("Azure config is incomplete")
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("create shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzurePublisher{client: client, container: cfg.Container, prefix: prefix, expiry: expiry}, nil
}

// Publish uploads the artifact and returns a read-only SAS URL.
func (p *AzurePublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	f, err := os.Open(localPath) //nolint:gosec // artifact path from the results directory
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck

	blob := objectKey(p.prefix, key)
	if _, err := p.client.UploadFile(ctx, p.container, blob, f, nil); err != nil {
		return "", fmt.Errorf("upload %q to container %q: %w", blob, p.container, err)
	}
	return p.PresignGet(key)
}

// PresignGet returns a read-only SAS URL for an already published key.
func (p *AzurePublisher) PresignGet(key string) (string, error) {
	blob := objectKey(p.prefix, key)
	blobClient := p.client.ServiceClient().NewContainerClient(p.container).NewBlobClient(blob)
	sasURL, err := blobClient.GetSASURL(sas.BlobPermissions{Read: true}, time.Now().Add(p.expiry), nil)
	if err != nil {
		return "", fmt.Errorf("generate SAS URL for %q: %w", blob, err)
	}
	return sasURL, nil
}

// Remove deletes the blob.
func (p *AzurePublisher) Remove(ctx context.Context, key string) error {
	blob := objectKey(p.prefix, key)
	if _, err := p.client.DeleteBlob(ctx, p.container, blob, nil); err != nil {
		return fmt.Errorf("delete %q from container %q: %w", blob, p.container, err)
	}
	return nil
}
