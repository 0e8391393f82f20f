package listings

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openlot/openlot/pkg/config"
)

var mediaTracer = otel.Tracer("openlot/listings/media")

// MediaStore uploads and serves listing photos from S3-compatible
// object storage
type MediaStore struct {
	client *s3.Client
	bucket string
}

// NewMediaStore builds the S3 client. Static credentials are used when
// configured (MinIO, explicit keys); otherwise the default chain.
func NewMediaStore(ctx context.Context, cfg config.MediaConfig) (*MediaStore, error) {
	var awsConfig aws.Config
	var err error

	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKey,
				cfg.S3SecretKey,
				"",
			)),
		)
	} else {
		awsConfig, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &MediaStore{client: client, bucket: cfg.S3Bucket}, nil
}

// Upload stores a photo under a generated key and returns that key
func (m *MediaStore) Upload(ctx context.Context, listingID, filename string, content io.Reader, contentType string) (string, error) {
	key := fmt.Sprintf("listings/%s/%s%s", listingID, uuid.NewString(), path.Ext(filename))

	ctx, span := mediaTracer.Start(ctx, "Media.Upload",
		trace.WithAttributes(
			attribute.String("s3.bucket", m.bucket),
			attribute.String("s3.key", key),
			attribute.String("content.type", contentType),
		),
	)
	defer span.End()

	data, err := io.ReadAll(content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read content")
		return "", fmt.Errorf("failed to read content: %w", err)
	}
	span.SetAttributes(attribute.Int("content.size", len(data)))

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "uploaded")
	return key, nil
}

// Get retrieves a photo by key
func (m *MediaStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	ctx, span := mediaTracer.Start(ctx, "Media.Get",
		trace.WithAttributes(
			attribute.String("s3.bucket", m.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get from s3")
		return nil, "", fmt.Errorf("failed to get object: %w", err)
	}

	contentType := ""
	if result.ContentType != nil {
		contentType = *result.ContentType
	}
	return result.Body, contentType, nil
}

// Delete removes a photo by key
func (m *MediaStore) Delete(ctx context.Context, key string) error {
	ctx, span := mediaTracer.Start(ctx, "Media.Delete",
		trace.WithAttributes(
			attribute.String("s3.bucket", m.bucket),
			attribute.String("s3.key", key),
		),
	)
	defer span.End()

	_, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete from s3")
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Uploader is the media surface the handlers depend on
type Uploader interface {
	Upload(ctx context.Context, listingID, filename string, content io.Reader, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
}
