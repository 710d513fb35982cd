package storage

import (
	"context"
	"fmt"

	"github.com/jjudge-oj/marketplace/config"
)

// NewBackend builds the object store selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.AssetsConfig) (ObjectStorage, error) {
	switch cfg.Backend {
	case config.AssetBackendLocal, "":
		return NewLocalClient(cfg.UploadDir)
	case config.AssetBackendMinio:
		return NewMinioClient(cfg.Minio)
	case config.AssetBackendS3:
		return NewS3Client(ctx, cfg.S3)
	case config.AssetBackendGCS:
		return NewGCSClient(ctx, cfg.GCS)
	case config.AssetBackendDrive:
		return NewDriveClient(ctx, cfg.Drive)
	default:
		return nil, fmt.Errorf("unknown asset backend %q", cfg.Backend)
	}
}
