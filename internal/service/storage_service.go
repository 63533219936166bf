package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"

	appconfig "github.com/jmylchreest/postforge-api/internal/config"
)

const (
	// generatedPrefix holds images mirrored from generation providers.
	generatedPrefix = "generated/"

	// maxMirrorBytes bounds a downloaded provider image.
	maxMirrorBytes = 20 << 20

	// DefaultPresignExpiry is the SigV4 maximum.
	DefaultPresignExpiry = 7 * 24 * time.Hour
)

// ObjectStore is the subset of the S3 API the service uses.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Presigner issues time-limited download URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// StorageService handles object storage operations (Tigris/S3-compatible).
type StorageService struct {
	store      ObjectStore
	presigner  Presigner
	bucket     string
	enabled    bool
	httpClient *http.Client
	logger     *slog.Logger
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	if !cfg.StorageEnabled {
		logger.Info("storage service disabled - no bucket configured")
		return &StorageService{
			enabled: false,
			logger:  logger,
		}, nil
	}

	// Load AWS config with static credentials
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.StorageEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		}
		o.UsePathStyle = true // Required for some S3-compatible services
	})

	logger.Info("storage service initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return NewStorageServiceWithStore(client, s3.NewPresignClient(client), cfg.StorageBucket, logger), nil
}

// NewStorageServiceWithStore creates an enabled storage service over an
// existing store.
func NewStorageServiceWithStore(store ObjectStore, presigner Presigner, bucket string, logger *slog.Logger) *StorageService {
	return &StorageService{
		store:      store,
		presigner:  presigner,
		bucket:     bucket,
		enabled:    store != nil && bucket != "",
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// Getter exposes the store for config loaders. Nil when disabled.
func (s *StorageService) Getter() appconfig.ObjectGetter {
	if !s.enabled {
		return nil
	}
	return s.store
}

// Bucket returns the configured bucket name.
func (s *StorageService) Bucket() string {
	return s.bucket
}

// GeneratedImageKey returns the object key for a mirrored image.
func GeneratedImageKey(principalID, ext string) string {
	return fmt.Sprintf("%s%s/%s.%s", generatedPrefix, principalID, strings.ToLower(ulid.Make().String()), ext)
}

// MirrorImage copies a provider image into the bucket and returns a presigned
// URL for it. Exactly one of b64 or srcURL is used, b64 first.
func (s *StorageService) MirrorImage(ctx context.Context, principalID, b64, srcURL string) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("storage is not enabled")
	}

	var data []byte
	contentType := "image/png"
	switch {
	case b64 != "":
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return "", fmt.Errorf("failed to decode image: %w", err)
		}
		data = decoded
	case srcURL != "":
		body, ct, err := s.download(ctx, srcURL)
		if err != nil {
			return "", err
		}
		data = body
		if ct != "" {
			contentType = ct
		}
	default:
		return "", fmt.Errorf("no image to mirror")
	}

	key := GeneratedImageKey(principalID, extensionFor(contentType))
	if err := s.Put(ctx, key, contentType, data); err != nil {
		return "", err
	}
	return s.PresignedURL(ctx, key, DefaultPresignExpiry)
}

func (s *StorageService) download(ctx context.Context, srcURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMirrorBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxMirrorBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", maxMirrorBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "png"
	}
}

// Put stores data under key.
func (s *StorageService) Put(ctx context.Context, key, contentType string, data []byte) error {
	if !s.enabled {
		return nil // Silently skip if storage is disabled
	}
	_, err := s.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}

	s.logger.Info("stored object",
		"key", key,
		"size_bytes", len(data),
	)
	return nil
}

// PresignedURL returns a download URL for key valid for expiry.
func (s *StorageService) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if !s.enabled {
		return "", fmt.Errorf("storage is not enabled")
	}
	if expiry <= 0 || expiry > DefaultPresignExpiry {
		expiry = DefaultPresignExpiry
	}

	presignedReq, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presignedReq.URL, nil
}

// Delete removes key.
func (s *StorageService) Delete(ctx context.Context, key string) error {
	if !s.enabled {
		return nil
	}
	_, err := s.store.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// DeleteOlderThan deletes objects under prefix last modified before the
// cutoff and returns how many were removed.
func (s *StorageService) DeleteOlderThan(ctx context.Context, prefix string, maxAge time.Duration) (int, error) {
	if !s.enabled {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(s.store, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list objects: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if err := s.Delete(ctx, aws.ToString(obj.Key)); err != nil {
				s.logger.Warn("failed to delete old object",
					"key", aws.ToString(obj.Key),
					"error", err,
				)
				continue
			}
			deleted++
		}
	}

	s.logger.Info("storage cleanup completed",
		"prefix", prefix,
		"deleted_count", deleted,
		"max_age", maxAge.String(),
	)
	return deleted, nil
}
