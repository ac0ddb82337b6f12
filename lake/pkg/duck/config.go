package duck

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const defaultS3Region = "us-east-1"

// LoadS3ConfigFromEnv loads S3 configuration for DuckLake storage from the environment.
//
// Environment variables (S3_ takes precedence over AWS_):
//   - S3_ACCESS_KEY_ID / AWS_ACCESS_KEY_ID
//   - S3_SECRET_ACCESS_KEY / AWS_SECRET_ACCESS_KEY
//   - S3_ENDPOINT / AWS_ENDPOINT_URL (set for MinIO)
//   - S3_REGION / AWS_REGION (default us-east-1)
//   - S3_USE_SSL ("true"/"1"), S3_URL_STYLE ("path"/"virtual")
//
// It returns nil, nil when no credentials are set so the default AWS credential chain is used.
func LoadS3ConfigFromEnv() (*S3Config, error) {
	accessKeyID := firstEnv("S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	secretAccessKey := firstEnv("S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")

	switch {
	case accessKeyID == "" && secretAccessKey == "":
		return nil, nil
	case accessKeyID == "":
		return nil, fmt.Errorf("S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is set but S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is missing")
	case secretAccessKey == "":
		return nil, fmt.Errorf("S3_ACCESS_KEY_ID or AWS_ACCESS_KEY_ID is set but S3_SECRET_ACCESS_KEY or AWS_SECRET_ACCESS_KEY is missing")
	}

	endpoint := firstEnv("S3_ENDPOINT", "AWS_ENDPOINT_URL")
	cfg := &S3Config{
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Endpoint:        endpoint,
		Region:          s3RegionFromEnv(),
		UseSSL:          !isMinIOEndpoint(endpoint),
		URLStyle:        "path",
	}
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		cfg.UseSSL = v == "true" || v == "1"
	}
	if v := os.Getenv("S3_URL_STYLE"); v != "" {
		cfg.URLStyle = v
	}
	return cfg, nil
}

// PrepareS3ConfigForStorageURI returns the S3 configuration for an s3:// storage URI, or nil for
// file:// storage. A missing bucket on a localhost MinIO endpoint is created.
func PrepareS3ConfigForStorageURI(ctx context.Context, log *slog.Logger, storageURI string) (*S3Config, error) {
	if !strings.HasPrefix(storageURI, "s3://") {
		return nil, nil
	}

	cfg, err := LoadS3ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}
	if cfg == nil {
		cfg = &S3Config{
			Region:   s3RegionFromEnv(),
			UseSSL:   true,
			URLStyle: "path",
		}
	}

	if isMinIOEndpoint(cfg.Endpoint) && (cfg.AccessKeyID == "" || cfg.SecretAccessKey == "") {
		return nil, fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set (endpoint: %s)", cfg.Endpoint)
	}

	if err := EnsureMinIOBucket(ctx, log, storageURI, cfg); err != nil {
		return nil, fmt.Errorf("failed to ensure MinIO bucket exists: %w", err)
	}
	return cfg, nil
}

// EnsureMinIOBucket creates the storage bucket when storage points at a local MinIO and the
// bucket does not exist yet. It is a no-op for AWS and remote endpoints.
func EnsureMinIOBucket(ctx context.Context, log *slog.Logger, storageURI string, cfg *S3Config) error {
	if cfg == nil || cfg.Endpoint == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	if !strings.HasPrefix(host, "localhost") && !strings.HasPrefix(host, "127.0.0.1") && !strings.Contains(host, "host.docker.internal") {
		return nil
	}
	bucket, _, _ := strings.Cut(strings.TrimPrefix(storageURI, "s3://"), "/")
	if bucket == "" {
		return nil
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return fmt.Errorf("MinIO requires both S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY to be set")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return fmt.Errorf("failed to create AWS config: %w", err)
	}
	endpointURL := cfg.Endpoint
	if !strings.HasPrefix(endpointURL, "http://") && !strings.HasPrefix(endpointURL, "https://") {
		endpointURL = "http://" + endpointURL
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpointURL)
		o.UsePathStyle = true
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}

	log.Info("duck: creating MinIO bucket", "bucket", bucket, "endpoint", cfg.Endpoint)
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func isMinIOEndpoint(endpoint string) bool {
	return endpoint != "" && !strings.Contains(endpoint, "amazonaws.com")
}

func s3RegionFromEnv() string {
	if region := firstEnv("S3_REGION", "AWS_REGION"); region != "" {
		return region
	}
	return defaultS3Region
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
