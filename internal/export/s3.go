package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// checksumKey is the object metadata entry holding the payload's SHA-256.
const checksumKey = "livesite-sha256"

// objectAPI is the subset of the S3 client the destination calls.
type objectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination uploads the export to a single object in a bucket. An
// upload is skipped when the stored object already carries the same
// checksum.
type S3Destination struct {
	api    objectAPI
	bucket string
	key    string
}

// NewS3Destination loads AWS credentials from the environment. A non-empty
// endpoint selects path-style addressing for MinIO and other S3-compatible
// stores.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Destination(client, bucket, key), nil
}

func newS3Destination(api objectAPI, bucket, key string) *S3Destination {
	return &S3Destination{api: api, bucket: bucket, key: key}
}

func (d *S3Destination) Name() string {
	return fmt.Sprintf("s3://%s/%s", d.bucket, d.key)
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	// A failed HEAD (missing object, no permission) just means upload.
	head, err := d.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.key),
	})
	if err == nil && head.Metadata[checksumKey] == digest {
		return nil
	}

	_, err = d.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
		Metadata:    map[string]string{checksumKey: digest},
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", d.Name(), err)
	}
	return nil
}
