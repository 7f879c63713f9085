package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects an artifact storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// GCSStoreConfig configures a GCSStore. The store itself is only compiled
// with the gcp build tag.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Type    StoreType
	DataDir string
	S3      S3StoreConfig
	GCS     GCSStoreConfig
}

// NewStore builds the backend named by cfg.Type. An empty type means fs.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case "", StoreTypeFS:
		dir := cfg.DataDir
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, "artifacts"))
	case StoreTypeS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("artifacts: ARTIFACT_S3_BUCKET is required for S3 storage")
		}
		if cfg.S3.Region == "" {
			cfg.S3.Region = "us-east-1"
		}
		return NewS3Store(ctx, cfg.S3)
	case StoreTypeGCS:
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("artifacts: ARTIFACT_GCS_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("artifacts: unsupported storage type %q", cfg.Type)
	}
}

// StoreConfigFromEnv reads:
//
//	ARTIFACT_STORAGE_TYPE  fs (default), s3, gcs
//	DATA_DIR               base directory for fs (default "data")
//	ARTIFACT_S3_BUCKET, ARTIFACT_S3_REGION (or AWS_REGION),
//	ARTIFACT_S3_ENDPOINT, ARTIFACT_S3_PREFIX
//	ARTIFACT_GCS_BUCKET, ARTIFACT_GCS_PREFIX
func StoreConfigFromEnv() StoreConfig {
	region := os.Getenv("ARTIFACT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	return StoreConfig{
		Type:    StoreType(os.Getenv("ARTIFACT_STORAGE_TYPE")),
		DataDir: os.Getenv("DATA_DIR"),
		S3: S3StoreConfig{
			Bucket:   os.Getenv("ARTIFACT_S3_BUCKET"),
			Region:   region,
			Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
			Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
		},
		GCS: GCSStoreConfig{
			Bucket: os.Getenv("ARTIFACT_GCS_BUCKET"),
			Prefix: os.Getenv("ARTIFACT_GCS_PREFIX"),
		},
	}
}

// NewStoreFromEnv is NewStore(ctx, StoreConfigFromEnv()).
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	return NewStore(ctx, StoreConfigFromEnv())
}
