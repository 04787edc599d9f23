// Package blobstore resolves poster image references. Uploaded images live
// in an S3 bucket; tests and manual submissions may use inline data refs.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"bandaid/internal/services"
)

// Blob is a fetched object with its content type.
type Blob struct {
	Bytes       []byte
	ContentType string
}

// Store fetches poster images by object key.
type Store interface {
	Get(ctx context.Context, key string) (Blob, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config captures bucket connection settings.
type Config struct {
	Bucket     string
	Region     string
	Endpoint   string
	PublicHost string
}

// S3Store serves poster images from an S3 bucket. If region and credentials
// are provided via environment, the SDK picks them up.
type S3Store struct {
	bucket string
	client *s3.Client
}

// NewS3Store creates a store for the configured bucket. Endpoint overrides
// support S3-compatible object stores.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blobstore: bucket required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{bucket: cfg.Bucket, client: client}, nil
}

// Get downloads one object.
func (s *S3Store) Get(ctx context.Context, key string) (Blob, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return Blob{}, services.Wrap(services.ErrNotFound, "blobstore", "get", key, err)
		}
		return Blob{}, services.Wrap(services.ErrTransient, "blobstore", "get", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Blob{}, services.Wrap(services.ErrTransient, "blobstore", "get", "read body", err)
	}
	contentType := "image/jpeg"
	if out.ContentType != nil && *out.ContentType != "" {
		contentType = *out.ContentType
	}
	return Blob{Bytes: data, ContentType: contentType}, nil
}

// List returns object keys under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "blobstore", "list", prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return keys, nil
}

func isNoSuchKey(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
