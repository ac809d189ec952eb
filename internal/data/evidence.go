package data

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"mediaguard/internal/biz"
	"mediaguard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultEvidenceBucket = "mediaguard-evidence"

type minioEvidenceRepo struct {
	client *minio.Client
	bucket string
}

type noopEvidenceRepo struct{}

func (noopEvidenceRepo) Put(context.Context, string, []byte, string) error { return nil }

// NewEvidenceRepo creates the MinIO evidence store, or a no-op one when
// disabled.
func NewEvidenceRepo(c *conf.Data, logger log.Logger) (biz.EvidenceRepo, error) {
	helper := log.NewHelper(log.With(logger, "module", "data/evidence"))
	if c.Minio == nil || !c.Minio.Enabled {
		helper.Info("evidence store disabled")
		return noopEvidenceRepo{}, nil
	}

	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	bucket := c.Minio.Bucket
	if bucket == "" {
		bucket = defaultEvidenceBucket
	}

	repo := &minioEvidenceRepo{client: client, bucket: bucket}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.ensureBucket(ctx); err != nil {
		return nil, err
	}
	helper.Infof("evidence store using bucket %s at %s", bucket, c.Minio.Endpoint)
	return repo, nil
}

func (r *minioEvidenceRepo) ensureBucket(ctx context.Context) error {
	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

func (r *minioEvidenceRepo) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := r.client.PutObject(ctx, r.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
