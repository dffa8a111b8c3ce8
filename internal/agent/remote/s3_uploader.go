package remote

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/cryptox"
	"github.com/dmitrijs2005/propcheck/internal/resilience"
	"golang.org/x/time/rate"
)

// S3Config describes an S3-compatible endpoint (AWS, MinIO, R2).
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// PutObjectAPI is the part of *s3.Client used for uploads.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

type UploaderOptions struct {
	// RatePerSecond caps PutObject calls; zero means unlimited.
	RatePerSecond float64
	Breakers      *resilience.Breakers
}

type S3Uploader struct {
	client   PutObjectAPI
	bucket   string
	limiter  *rate.Limiter
	breakers *resilience.Breakers
	now      func() time.Time
	suffix   func() (string, error)
}

func NewS3Uploader(client PutObjectAPI, bucket string, opts UploaderOptions) *S3Uploader {
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	return &S3Uploader{
		client:   client,
		bucket:   bucket,
		limiter:  rate.NewLimiter(limit, 1),
		breakers: opts.Breakers,
		now:      time.Now,
		suffix:   func() (string, error) { return cryptox.RandomSuffix(4) },
	}
}

// ObjectKey builds {prefix}/{year}/{month}/{unixMillis}-{suffix}.{ext}.
func ObjectKey(prefix string, t time.Time, suffix, ext string) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%d-%s.%s", prefix, t.Year(), int(t.Month()), t.UnixMilli(), suffix, ext)
}

// Upload stores blobs under prefix and returns their keys in input order.
// The call fails as a whole on the first error.
func (u *S3Uploader) Upload(ctx context.Context, blobs []models.Blob, prefix string) ([]string, error) {
	paths := make([]string, 0, len(blobs))

	for _, b := range blobs {
		if err := u.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		suffix, err := u.suffix()
		if err != nil {
			return nil, fmt.Errorf("random suffix: %w", err)
		}
		key := ObjectKey(prefix, u.now(), suffix, b.Ext())

		contentType := b.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		err = u.breakers.Execute(ctx, "s3.put_object", func(ctx context.Context) error {
			_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket:        aws.String(u.bucket),
				Key:           aws.String(key),
				Body:          bytes.NewReader(b.Data),
				ContentType:   aws.String(contentType),
				ContentLength: aws.Int64(int64(b.Size())),
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("put %s: %w", key, err)
		}

		paths = append(paths, key)
	}

	return paths, nil
}
