package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	appConfig "github.com/kendall-kelly/atelier-market-api/config"
)

// WebhookArchive keeps raw courier webhook bodies for audits and replays
type WebhookArchive interface {
	Archive(ctx context.Context, courier, trackingNumber string, payload []byte) (string, error)
}

// S3PutObjectAPI is the subset of the S3 client the archive needs
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3WebhookArchive stores webhook bodies as JSON objects in a bucket
type S3WebhookArchive struct {
	client S3PutObjectAPI
	bucket string
	now    func() time.Time
}

// NewS3WebhookArchive builds an archive from the AWS settings in cfg
func NewS3WebhookArchive(ctx context.Context, cfg *appConfig.Config) (*S3WebhookArchive, error) {
	if cfg.AWSS3Bucket == "" {
		return nil, fmt.Errorf("AWS_S3_BUCKET is required for the webhook archive")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AWSAccessKeyID,
			cfg.AWSSecretAccessKey,
			"",
		)))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewS3WebhookArchiveWithClient(s3.NewFromConfig(awsConfig), cfg.AWSS3Bucket), nil
}

// NewS3WebhookArchiveWithClient wraps an existing S3 client
func NewS3WebhookArchiveWithClient(client S3PutObjectAPI, bucket string) *S3WebhookArchive {
	return &S3WebhookArchive{client: client, bucket: bucket, now: time.Now}
}

// Archive uploads the payload and returns its object key.
// Key format: webhooks/{courier}/{yyyy}/{mm}/{dd}/{tracking}_{uuid}.json
func (a *S3WebhookArchive) Archive(ctx context.Context, courier, trackingNumber string, payload []byte) (string, error) {
	key := fmt.Sprintf("webhooks/%s/%s/%s_%s.json",
		courier,
		a.now().UTC().Format("2006/01/02"),
		sanitizeKeyPart(trackingNumber),
		uuid.NewString())

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"courier":         courier,
			"tracking-number": trackingNumber,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload webhook to S3: %w", err)
	}

	return key, nil
}

func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
