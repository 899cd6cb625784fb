// Package objectstore keeps export artifacts in S3-compatible object storage.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ion606/workout-api/internal/config"
	"github.com/ion606/workout-api/internal/domain"
	"github.com/ion606/workout-api/internal/export"
	"github.com/ion606/workout-api/internal/platform/logger"
)

// API is the subset of the S3 client used by S3Artifacts.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Artifacts renders into a local staging directory and uploads committed
// artifacts to a bucket. Locations are object keys.
type S3Artifacts struct {
	client  API
	bucket  string
	prefix  string
	staging *export.LocalArtifacts
	logger  *slog.Logger
}

var _ export.ArtifactStore = (*S3Artifacts)(nil)

// NewClient builds an S3 client from configuration. A custom endpoint
// switches to path-style addressing for MinIO and similar services.
func NewClient(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if cfg.Endpoint == "" {
		return s3.NewFromConfig(awsCfg), nil
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	}), nil
}

// NewS3Artifacts creates an artifact store over client. stagingDir holds
// renders until they are uploaded.
func NewS3Artifacts(client API, bucket, prefix, stagingDir string, logger *slog.Logger) (*S3Artifacts, error) {
	if client == nil {
		return nil, errors.New("s3 client cannot be nil")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket cannot be empty")
	}
	staging, err := export.NewLocalArtifacts(stagingDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &S3Artifacts{
		client:  client,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		staging: staging,
		logger:  logger.With(slog.String("component", "s3_artifacts")),
	}, nil
}

// Key returns the object key for a staged file. The key reuses the staged
// file's unique name, so each render uploads to its own object.
func (s *S3Artifacts) Key(staged string) string {
	return path.Join(s.prefix, filepath.Base(staged))
}

// Stage implements export.ArtifactStore.
func (s *S3Artifacts) Stage(req *domain.ExportRequest) (string, error) {
	return s.staging.Stage(req)
}

// Commit implements export.ArtifactStore. The staged file is removed once
// the upload succeeds.
func (s *S3Artifacts) Commit(ctx context.Context, req *domain.ExportRequest, staged string) (string, error) {
	f, err := os.Open(staged)
	if err != nil {
		return "", fmt.Errorf("staged artifact missing: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat staged artifact: %w", err)
	}

	key := s.Key(staged)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(req.Format.ContentType()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	if err := s.staging.Discard(staged); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("failed to remove staged artifact",
			slog.String("path", staged),
			slog.String("error", err.Error()))
	}
	return key, nil
}

// Discard implements export.ArtifactStore.
func (s *S3Artifacts) Discard(staged string) error {
	return s.staging.Discard(staged)
}

// Open implements export.ArtifactStore.
func (s *S3Artifacts) Open(ctx context.Context, location string) (*export.Artifact, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if isMissing(err) {
		return nil, export.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = aws.ToInt64(out.ContentLength)
	}
	return &export.Artifact{Body: out.Body, Size: size, Name: filepath.Base(location)}, nil
}

// Remove implements export.ArtifactStore.
func (s *S3Artifacts) Remove(ctx context.Context, location string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if isMissing(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat object in S3: %w", err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return true, nil
}

func isMissing(err error) bool {
	if err == nil {
		return false
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
