package evidence

import (
	"bytes"
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// S3Archiver stores evidence blobs in an S3 bucket keyed by content
// hash.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds S3 archiver settings. Endpoint supports MinIO and
// LocalStack.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

// NewS3Archiver creates an S3-backed archiver using the default AWS
// credential chain.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "aws config load failed")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *S3Archiver) key(hash string) string { return a.prefix + hash + ".json" }

func (a *S3Archiver) Archive(ctx context.Context, payload any) (string, error) {
	data, ref, err := encode(payload)
	if err != nil {
		return "", err
	}
	hash, _ := rawHash(ref)
	key := a.key(hash)

	// Content-addressed: if the key exists the payload is identical.
	if _, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return ref, nil
	}

	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return "", faults.Wrap(faults.TransientExternal, err, "s3 put %s failed", key)
	}
	return ref, nil
}

func (a *S3Archiver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	hash, err := rawHash(ref)
	if err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(hash)),
	})
	if err != nil {
		return nil, faults.Wrap(faults.TransientExternal, err, "s3 get %s failed", ref)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}
