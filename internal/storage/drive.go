package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/jjudge-oj/marketplace/config"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	driveFolderMimeType  = "application/vnd.google-apps.folder"
	driveThumbnailURL    = "https://drive.google.com/thumbnail"
	driveDefaultThumbDim = 1000
)

// DriveClient stores product images as files in a Google Drive folder.
// Asset references are Drive file IDs.
type DriveClient struct {
	service  *drive.Service
	folderID string
}

// NewDriveClient constructs a Drive client from config.
func NewDriveClient(ctx context.Context, cfg config.DriveConfig) (*DriveClient, error) {
	if strings.TrimSpace(cfg.FolderID) == "" {
		return nil, errors.New("drive folder id is required")
	}

	opts := []option.ClientOption{option.WithScopes(drive.DriveFileScope)}
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &DriveClient{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

// EnsureBucket checks that the configured folder exists and is a folder.
// Drive folders are not created on demand.
func (d *DriveClient) EnsureBucket(ctx context.Context) error {
	folder, err := d.service.Files.Get(d.folderID).
		Fields("id", "mimeType").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return err
	}
	if folder.MimeType != driveFolderMimeType {
		return fmt.Errorf("drive id %s is not a folder", d.folderID)
	}
	return nil
}

// Put uploads an image into the folder and returns the new file ID.
func (d *DriveClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	file := &drive.File{
		Name:     path.Base(key),
		MimeType: contentType,
		Parents:  []string{d.folderID},
	}
	created, err := d.service.Files.Create(file).
		Media(r, googleapi.ContentType(contentType)).
		Fields("id").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// Get downloads the file content.
func (d *DriveClient) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	resp, err := d.service.Files.Get(ref).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return resp.Body, nil
}

// Delete removes the file.
func (d *DriveClient) Delete(ctx context.Context, ref string) error {
	return d.service.Files.Delete(ref).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

// Bucket returns the folder ID.
func (d *DriveClient) Bucket() string {
	return d.folderID
}

// URL returns the Drive thumbnail URL for the file at the requested size.
func (d *DriveClient) URL(ref string, width, height int) string {
	if width <= 0 {
		width = driveDefaultThumbDim
	}
	if height <= 0 {
		height = driveDefaultThumbDim
	}
	q := url.Values{}
	q.Set("id", ref)
	q.Set("sz", fmt.Sprintf("w%d-h%d", width, height))
	return driveThumbnailURL + "?" + q.Encode()
}
