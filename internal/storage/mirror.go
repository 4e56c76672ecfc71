package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// ProfileMirror receives a copy of every profile uploaded to the registry
type ProfileMirror interface {
	MirrorProfile(ctx context.Context, name string, data []byte) error
}

// NopMirror discards uploads. It is used when no blob storage is configured.
type NopMirror struct{}

// MirrorProfile implements ProfileMirror
func (NopMirror) MirrorProfile(context.Context, string, []byte) error { return nil }

type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName string, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

type azureMirror struct {
	client    blobUploader
	container string
}

// NewAzureMirror creates a mirror that writes profiles to an Azure blob container
func NewAzureMirror(accountName, accountKey, container string) (ProfileMirror, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &azureMirror{client: client, container: container}, nil
}

func (m *azureMirror) MirrorProfile(ctx context.Context, name string, data []byte) error {
	blobName := BlobName(name)
	contentType := "application/vnd.iccprofile"
	_, err := m.client.UploadBuffer(ctx, m.container, blobName, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("upload %s to container %s failed: %w", blobName, m.container, err)
	}
	return nil
}

// BlobName maps a profile file name to its blob name under the user/ prefix
func BlobName(name string) string {
	return path.Join("user", strings.TrimLeft(path.Base(strings.ReplaceAll(name, "\\", "/")), "/"))
}
