// Package upload ships the final artifact to S3.
package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/kebairia/sitebackup/internal/config"
)

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}

// S3Uploader streams objects to S3 with a private ACL.
type S3Uploader struct {
	uploader *s3manager.Uploader
}

var _ Uploader = (*S3Uploader)(nil)

// NewS3Uploader builds a session from the static credentials in cfg. The
// session lives only as long as the returned uploader.
func NewS3Uploader(cfg config.AmazonConfig) (*S3Uploader, error) {
	region := cfg.Region
	if region == "" {
		region = config.DefaultRegion
	}
	awsCfg := &aws.Config{
		Region: aws.String(region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // token
		),
		// Attempts are counted by Stage, not by the SDK.
		MaxRetries: aws.Int(0),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}
	return &S3Uploader{uploader: s3manager.NewUploader(sess)}, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
		ACL:    aws.String(s3.ObjectCannedACLPrivate),
	})
	return err
}
