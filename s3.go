package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Publisher uploads run artifacts to an S3-compatible bucket (R2, MinIO, AWS).
type Publisher struct {
	client     *s3.Client
	uploader   *manager.Uploader
	endpoint   string
	bucket     string
	bucketPath string
}

// NewPublisher creates a publisher from the S3 settings. Call only when
// cfg.Enabled() is true.
func NewPublisher(cfg S3Config) (*Publisher, error) {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID && cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.Endpoint,
				SigningRegion: cfg.Region,
			}, nil
		}
		return aws.Endpoint{}, &smithy.GenericAPIError{Code: "UnknownEndpoint"}
	})

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(cfg.Region),
		config.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	log.Printf("Artifact publisher ready for bucket %s", cfg.Bucket)

	return &Publisher{
		client:     client,
		uploader:   manager.NewUploader(client),
		endpoint:   strings.TrimSuffix(cfg.Endpoint, "/"),
		bucket:     cfg.Bucket,
		bucketPath: cfg.BucketPath,
	}, nil
}

// PublishArtifact uploads body under the configured bucket path and returns
// the public URL of the object.
func (p *Publisher) PublishArtifact(ctx context.Context, name string, body io.Reader) (string, error) {
	key := p.objectKey(name)

	input := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
		Body:   body,
		ACL:    types.ObjectCannedACLPublicRead,
	}
	if ct := contentTypeFor(name); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := p.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}

	log.Printf("Published artifact %s", key)
	return p.PublicURL(name), nil
}

// PublishFile uploads a file from disk under the given object name.
func (p *Publisher) PublishFile(ctx context.Context, filePath, name string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	return p.PublishArtifact(ctx, name, f)
}

// ObjectExists reports whether an artifact is already in the bucket.
func (p *Publisher) ObjectExists(ctx context.Context, name string) (bool, error) {
	key := p.objectKey(name)

	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return true, nil
}

// PublicURL returns the path-style URL of a published artifact.
func (p *Publisher) PublicURL(name string) string {
	return fmt.Sprintf("%s/%s/%s", p.endpoint, p.bucket, p.objectKey(name))
}

func (p *Publisher) objectKey(name string) string {
	return path.Join(p.bucketPath, name)
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".kmz":
		return "application/vnd.google-earth.kmz"
	case ".kml":
		return "application/vnd.google-earth.kml+xml"
	case ".zip":
		return "application/zip"
	case ".json", ".geojson":
		return "application/json"
	}
	return ""
}
