package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	walletconfig "wallet-migrator/internal/config"
	"wallet-migrator/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ObjectPutter is the part of the S3 client the archive uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive copies deprecation records to S3-compatible storage
type Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *zerolog.Logger
}

// New builds an S3 client from cfg. A custom endpoint selects path-style
// addressing for R2/MinIO style stores.
func New(ctx context.Context, cfg walletconfig.ArchiveConfig, logger *zerolog.Logger) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not set")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewWithClient(client ObjectPutter, bucket, prefix string, logger *zerolog.Logger) *Archive {
	return &Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Key is the object key of a record: <prefix>/<yyyy>/<mm>/<dd>/<old address>.json
func (a *Archive) Key(rec *models.DeprecationRecord) string {
	day := rec.CreatedAt.UTC().Format("2006/01/02")
	return path.Join(a.prefix, day, strings.ToLower(rec.OldAddress)+".json")
}

// Put uploads rec as JSON.
func (a *Archive) Put(ctx context.Context, rec *models.DeprecationRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	key := a.Key(rec)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	a.logger.Debug().
		Str("bucket", a.bucket).
		Str("key", key).
		Msg("Archived deprecation record")
	return nil
}
