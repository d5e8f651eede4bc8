package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

type StorageRepository interface {
	PresignedUpload(ctx context.Context, objectPath string, expiry time.Duration) (string, error)
	PublicURL(objectPath string) string
}

type storageRepository struct {
	client    *minio.Client
	endpoint  string
	bucket    string
	region    string
	publicURL string
	useSSL    bool
	logger    zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

func NewStorageRepository(endpoint, accessKey, secretKey, bucket, region, publicURL string, useSSL bool, logger zerolog.Logger) (StorageRepository, error) {
	// Инициализация клиента MinIO
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	repo := &storageRepository{
		client:    client,
		endpoint:  endpoint,
		bucket:    bucket,
		region:    region,
		publicURL: strings.TrimRight(publicURL, "/"),
		useSSL:    useSSL,
		logger:    logger,
	}

	// Best-effort bootstrap: не валим сервис, если MinIO ещё не поднялся,
	// бакет доведём до готовности при первом запросе подписанного URL.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repo.ensureBucket(ctx); err != nil {
		logger.Warn().Err(err).
			Str("endpoint", endpoint).
			Str("bucket", bucket).
			Msg("MinIO not ready during startup; will retry on demand")
	} else {
		logger.Info().
			Str("endpoint", endpoint).
			Str("bucket", bucket).
			Bool("ssl", useSSL).
			Msg("Connected to MinIO")
	}

	return repo, nil
}

func (r *storageRepository) ensureBucket(ctx context.Context) error {
	r.ensureMu.Lock()
	defer r.ensureMu.Unlock()
	if r.bucketEnsured {
		return nil
	}

	exists, err := r.client.BucketExists(ctx, r.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	if !exists {
		if err := r.client.MakeBucket(ctx, r.bucket, minio.MakeBucketOptions{Region: r.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		r.logger.Info().Str("bucket", r.bucket).Msg("Created new bucket")
	}

	r.bucketEnsured = true
	return nil
}

func (r *storageRepository) PresignedUpload(ctx context.Context, objectPath string, expiry time.Duration) (string, error) {
	if err := r.ensureBucket(ctx); err != nil {
		return "", err
	}

	uploadURL, err := r.client.PresignedPutObject(ctx, r.bucket, objectPath, expiry)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	r.logger.Debug().
		Str("bucket", r.bucket).
		Str("object", objectPath).
		Dur("expiry", expiry).
		Msg("Generated presigned upload URL")

	return uploadURL.String(), nil
}

func (r *storageRepository) PublicURL(objectPath string) string {
	if r.publicURL != "" {
		return fmt.Sprintf("%s/%s/%s", r.publicURL, r.bucket, objectPath)
	}

	scheme := "http"
	if r.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, r.endpoint, r.bucket, objectPath)
}
