package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureStore keeps images as block blobs in a single container.
type AzureStore struct {
	client    *azblob.Client
	container string
}

func NewAzureStore(connectionString, container string) (*AzureStore, error) {
	if connectionString == "" || container == "" {
		return nil, fmt.Errorf("AZURE_STORAGE_CONNECTION_STRING and AZURE_STORAGE_CONTAINER are required")
	}
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &AzureStore{client: client, container: container}, nil
}

func (s *AzureStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	base, err := cleanName(name)
	if err != nil {
		return "", err
	}
	contentType := "image/jpeg"
	_, err = s.client.UploadBuffer(ctx, s.container, base, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return azureRef(s.container, base), nil
}

func (s *AzureStore) Get(ctx context.Context, ref string) ([]byte, error) {
	container, name, err := parseAzureRef(ref)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("image %q not found: %w", ref, err)
		}
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return buf.Bytes(), nil
}

func azureRef(container, name string) string {
	return azureScheme + container + "/" + name
}

func parseAzureRef(ref string) (container, name string, err error) {
	if !strings.HasPrefix(ref, azureScheme) {
		return "", "", fmt.Errorf("not an azure blob reference: %q", ref)
	}
	container, name, ok := strings.Cut(strings.TrimPrefix(ref, azureScheme), "/")
	if !ok || container == "" || name == "" {
		return "", "", fmt.Errorf("malformed azure blob reference: %q", ref)
	}
	return container, name, nil
}
