package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig configures the object store archive.
type MinIOConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	UseSSL          bool          `yaml:"use_ssl"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// MinIOArchive stores snapshots in an S3-compatible bucket.
type MinIOArchive struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

// NewMinIOArchive connects to the object store and creates the bucket if missing.
func NewMinIOArchive(ctx context.Context, cfg MinIOConfig, log *zap.Logger) (*MinIOArchive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	a := &MinIOArchive{client: client, bucket: cfg.Bucket, log: log.Named("minio")}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		a.log.Info("created snapshot bucket", zap.String("bucket", cfg.Bucket))
	}

	return a, nil
}

func (a *MinIOArchive) Put(ctx context.Context, key string, data []byte) error {
	info, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	a.log.Debug("snapshot uploaded", zap.String("key", key), zap.Int64("size", info.Size), zap.String("etag", info.ETag))
	return nil
}
