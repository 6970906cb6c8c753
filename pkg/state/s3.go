package state

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

// S3API is the subset of the S3 client the backend uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Backend stores the document as a single S3 object. PutObject replaces
// the object atomically.
type S3Backend struct {
	client S3API
	bucket string
	key    string
}

// NewS3Backend loads the default AWS credential chain.
func NewS3Backend(ctx context.Context, bucket, key, region string) (*S3Backend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 state backend requires a bucket")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3BackendWithClient(s3.NewFromConfig(cfg), bucket, key), nil
}

// NewS3BackendWithClient uses an existing client.
func NewS3BackendWithClient(client S3API, bucket, key string) *S3Backend {
	if key == "" {
		key = "tap-tilroy/state.json"
	}
	return &S3Backend{client: client, bucket: bucket, key: key}
}

func (b *S3Backend) Load(ctx context.Context) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", b.bucket, b.key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) Save(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

func (b *S3Backend) Close() error { return nil }
func (b *S3Backend) Name() string { return "s3" }
