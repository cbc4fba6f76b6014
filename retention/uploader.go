package retention

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the narrow surface the archival sweep needs from cold
// storage: one object per archive batch. Satisfied by *S3Uploader, and
// by a test double that records calls without touching the network.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}

// S3Uploader archives batches to S3 via the SDK's managed uploader,
// grounded on the teacher's HetznerUploadFile/HetznerUploaderFile
// pattern: a pre-configured manager.Uploader reused across calls. The
// teacher's MD5 metadata and multi-cloud endpoint-resolver machinery is
// dropped — a single PutObject-per-batch flow against one region is all
// this engine's archive operation needs (see DESIGN.md).
type S3Uploader struct {
	uploader *manager.Uploader
}

// NewS3Uploader loads the default AWS configuration (region, static or
// environment credentials) and builds a reusable uploader.
func NewS3Uploader(ctx context.Context, region string) (*S3Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Uploader{uploader: manager.NewUploader(client)}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}
