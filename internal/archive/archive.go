// Package archive keeps JSON snapshots of approved stagings in object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/store"
	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the subset of object storage the archive needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Config holds object storage settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// MinioStore writes objects to a single MinIO bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore creates a client and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Put uploads data under key.
func (m *MinioStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put object failed: %w", err)
	}
	return nil
}

// ArchivingStore decorates a Repository and snapshots every stored staging.
// Snapshot failures are logged and never fail the write.
type ArchivingStore struct {
	store.Repository
	objects ObjectStore
	logger  *slog.Logger
}

// Wrap decorates repo with archiving.
func Wrap(repo store.Repository, objects ObjectStore, logger *slog.Logger) *ArchivingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchivingStore{Repository: repo, objects: objects, logger: logger}
}

// Approve stores rec and archives it.
func (a *ArchivingStore) Approve(ctx context.Context, rec domain.StagingRecord) error {
	if err := a.Repository.Approve(ctx, rec); err != nil {
		return err
	}
	a.snapshot(ctx, rec)
	return nil
}

// PreStage stores rec and archives it.
func (a *ArchivingStore) PreStage(ctx context.Context, rec domain.StagingRecord) error {
	if err := a.Repository.PreStage(ctx, rec); err != nil {
		return err
	}
	a.snapshot(ctx, rec)
	return nil
}

// Key returns the object key for a staging snapshot.
func Key(rec domain.StagingRecord) string {
	return path.Join("stagings", string(rec.WorldID), string(rec.RegionID), string(rec.ID)+".json")
}

func (a *ArchivingStore) snapshot(ctx context.Context, rec domain.StagingRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		a.logger.Warn("Failed to encode staging snapshot", "staging_id", rec.ID, "error", err)
		return
	}
	if err := a.objects.Put(ctx, Key(rec), data); err != nil {
		a.logger.Warn("Failed to archive staging snapshot", "staging_id", rec.ID, "region_id", rec.RegionID, "error", err)
		return
	}
	a.logger.Debug("Staging snapshot archived", "staging_id", rec.ID, "key", Key(rec))
}
