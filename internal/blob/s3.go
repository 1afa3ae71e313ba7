package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LogSuffix is the only blob suffix the pipeline consumes; everything else
// under the prefix is ignored.
const LogSuffix = ".gz"

// Source enumerates and retrieves named compressed byte blobs. Implemented
// by S3Source in production and faked in tests.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, key string) (io.ReadCloser, error)
}

// S3Source reads compressed access logs from an S3 bucket prefix.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
	log    *slog.Logger
}

// NewS3Source builds an S3-backed source using the default AWS credential
// chain.
func NewS3Source(ctx context.Context, region, bucket, prefix string, log *slog.Logger) (*S3Source, error) {
	if log == nil {
		log = slog.Default()
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3Source{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: prefix,
		log:    log,
	}, nil
}

// List returns every key under the prefix ending in LogSuffix.
func (s *S3Source) List(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", s.bucket, s.prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil && strings.HasSuffix(*obj.Key, LogSuffix) {
				keys = append(keys, *obj.Key)
			}
		}
	}

	s.log.Info("listed log blobs", "bucket", s.bucket, "prefix", s.prefix, "count", len(keys))
	return keys, nil
}

// Fetch retrieves one blob's bytes. The caller owns the returned reader.
func (s *S3Source) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch s3://%s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}
