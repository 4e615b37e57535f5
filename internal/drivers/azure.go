package drivers

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"go.uber.org/zap"
)

// AzureConfig holds Azure Blob Storage account settings. Without an
// account key the driver falls back to DefaultAzureCredential and cannot
// issue SAS URLs.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	ServiceURL  string
}

// AzureDriver implements Driver for Azure Blob Storage (az://container/blob)
type AzureDriver struct {
	client *azblob.Client
	logger *zap.Logger
}

// NewAzureDriver creates an Azure blob driver
func NewAzureDriver(cfg AzureConfig, logger *zap.Logger) (*AzureDriver, error) {
	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}

	if cfg.AccountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("create azure client: %w", err)
		}
		return &AzureDriver{client: client, logger: logger}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("default azure credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create azure client: %w", err)
	}
	return &AzureDriver{client: client, logger: logger}, nil
}

// Name returns the driver name
func (d *AzureDriver) Name() string {
	return "azure"
}

func (d *AzureDriver) blobClient(container, name string) *blob.Client {
	return d.client.ServiceClient().NewContainerClient(container).NewBlobClient(name)
}

func splitAzure(locator string) (string, string, error) {
	loc, err := parseFor(locator, SchemeAzure)
	if err != nil {
		return "", "", err
	}
	return loc.Split()
}

// Get streams a blob
func (d *AzureDriver) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	container, name, err := splitAzure(locator)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, ErrNotFound.Wrap(err)
		}
		return nil, fmt.Errorf("download blob %s/%s: %w", container, name, err)
	}
	return resp.Body, nil
}

// Put uploads a blob, creating the container when it is missing
func (d *AzureDriver) Put(ctx context.Context, locator string, data io.Reader) error {
	container, name, err := splitAzure(locator)
	if err != nil {
		return err
	}

	if _, err := d.client.CreateContainer(ctx, container, nil); err != nil &&
		!bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("create container %s: %w", container, err)
	}

	if _, err := d.client.UploadStream(ctx, container, name, data, nil); err != nil {
		return fmt.Errorf("upload blob %s/%s: %w", container, name, err)
	}

	d.logger.Debug("AzureDriver.Put",
		zap.String("container", container),
		zap.String("blob", name))
	return nil
}

// Exists checks blob presence via its properties
func (d *AzureDriver) Exists(ctx context.Context, locator string) (bool, error) {
	container, name, err := splitAzure(locator)
	if err != nil {
		return false, err
	}

	_, err = d.blobClient(container, name).GetProperties(ctx, nil)
	if err == nil {
		return true, nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("blob properties %s/%s: %w", container, name, err)
}

// Delete removes a blob
func (d *AzureDriver) Delete(ctx context.Context, locator string) error {
	container, name, err := splitAzure(locator)
	if err != nil {
		return err
	}
	if _, err := d.client.DeleteBlob(ctx, container, name, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return ErrNotFound.Wrap(err)
		}
		return fmt.Errorf("delete blob %s/%s: %w", container, name, err)
	}
	return nil
}

// SignedURL issues a read-only SAS URL valid for SignedURLExpiry
func (d *AzureDriver) SignedURL(ctx context.Context, locator string) (string, error) {
	container, name, err := splitAzure(locator)
	if err != nil {
		return "", err
	}

	expiry := time.Now().UTC().Add(SignedURLExpiry)
	u, err := d.blobClient(container, name).GetSASURL(sas.BlobPermissions{Read: true}, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("sas url %s/%s: %w", container, name, err)
	}
	return u, nil
}
