package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Archiver mirrors saved artifacts to an S3 bucket under a fixed prefix.
type S3Archiver struct {
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewS3Archiver builds an archiver from the ambient AWS credential chain.
func NewS3Archiver(ctx context.Context, bucket, region string, log zerolog.Logger) (*S3Archiver, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   "outputs",
		log:      log.With().Str("component", "s3-archive").Logger(),
	}, nil
}

// Archive uploads one artifact.
func (a *S3Archiver) Archive(ctx context.Context, key string, body []byte) error {
	fullKey := path.Join(a.prefix, key)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(fullKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", a.bucket, fullKey, err)
	}
	a.log.Debug().Str("key", fullKey).Msg("Artifact archived")
	return nil
}
