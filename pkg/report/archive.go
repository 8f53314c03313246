package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archive persists rendered weekly reports for later reference.
type Archive interface {
	// Store saves a rendered report and returns a reference path/URL.
	Store(ctx context.Context, name string, text []byte) (string, error)
}

// S3Archive stores reports in S3-compatible storage.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3ArchiveConfig holds S3 configuration.
type S3ArchiveConfig struct {
	Bucket          string
	Prefix          string // e.g., "reports/weekly/"
	Region          string
	Endpoint        string // for MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Archive creates an S3-backed report archive.
func NewS3Archive(cfg S3ArchiveConfig) (*S3Archive, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}

	return &S3Archive{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store implements Archive.
func (s *S3Archive) Store(ctx context.Context, name string, text []byte) (string, error) {
	key := fmt.Sprintf("%s%s/%s.txt", s.prefix, time.Now().Format("2006"), name)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(text),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload report to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// LocalArchive stores reports on the local filesystem.
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a local filesystem archive.
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &LocalArchive{basePath: basePath}, nil
}

// Store implements Archive.
func (l *LocalArchive) Store(_ context.Context, name string, text []byte) (string, error) {
	path := filepath.Join(l.basePath, name+".txt")
	if err := os.WriteFile(path, text, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}
