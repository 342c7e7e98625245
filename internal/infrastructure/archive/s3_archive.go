// Package archive stores normalized invoice PDFs in S3-compatible object
// storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	infraconfig "github.com/ordo/vendor-engine/internal/infrastructure/config"
)

// Store archives normalized invoice PDFs and serves them back through
// presigned links.
type Store interface {
	// Put archives one invoice PDF and returns its storage key.
	Put(ctx context.Context, officeID, vendorID uuid.UUID, orderRef string, pdf []byte) (string, error)
	// PresignedLink returns a time-limited download URL for a stored key.
	PresignedLink(ctx context.Context, storageKey string, expiresIn time.Duration) (string, error)
}

// S3Store implements Store using AWS S3 SDK v2. It is compatible with any
// S3-compatible backend (AWS S3, RustFS, MinIO, etc.)
type S3Store struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	logger        *zap.Logger
}

// S3StoreOption is a functional option for configuring S3Store
type S3StoreOption func(*S3Store)

// WithLogger sets a custom logger for S3Store
func WithLogger(logger *zap.Logger) S3StoreOption {
	return func(s *S3Store) {
		s.logger = logger
	}
}

// NewS3Store creates an archive store from configuration.
func NewS3Store(cfg *infraconfig.ArchiveConfig, opts ...S3StoreOption) (*S3Store, error) {
	if cfg == nil {
		return nil, errors.New("archive configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, errors.New("archive access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, errors.New("archive secret key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if cfg.UseSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid archive endpoint: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String(endpoint)
	})

	store := &S3Store{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// EnsureBucket creates the bucket if it doesn't exist. Call at startup.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	s.logger.Info("Creating archive bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// Put archives one normalized invoice PDF under a deterministic key, so
// re-running the pipeline for the same order overwrites rather than
// accumulates.
func (s *S3Store) Put(ctx context.Context, officeID, vendorID uuid.UUID, orderRef string, pdf []byte) (string, error) {
	if len(pdf) == 0 {
		return "", errors.New("archive: empty PDF")
	}

	key := ObjectKey(officeID, vendorID, orderRef)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(pdf),
		ContentType: aws.String("application/pdf"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: upload %s: %w", key, err)
	}

	s.logger.Info("invoice archived",
		zap.String("key", key),
		zap.Int("bytes", len(pdf)))
	return key, nil
}

// PresignedLink returns a time-limited download URL for a stored key.
func (s *S3Store) PresignedLink(ctx context.Context, storageKey string, expiresIn time.Duration) (string, error) {
	if storageKey == "" {
		return "", errors.New("archive: storage key is required")
	}
	if expiresIn <= 0 {
		expiresIn = 15 * time.Minute
	}

	presignReq, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return "", fmt.Errorf("archive: presign %s: %w", storageKey, err)
	}
	return presignReq.URL, nil
}

// ObjectKey builds the deterministic storage key for an order's invoice.
func ObjectKey(officeID, vendorID uuid.UUID, orderRef string) string {
	ref := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, orderRef)
	return fmt.Sprintf("invoices/%s/%s/%s.pdf", officeID, vendorID, ref)
}

// Ensure S3Store implements Store
var _ Store = (*S3Store)(nil)
