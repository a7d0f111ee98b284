package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Uploader copies a finished bundle somewhere off the box.
type Uploader interface {
	UploadBundle(ctx context.Context, dir, bundlePath string) error
}

// S3Uploader mirrors bundles into an S3 bucket under an optional key
// prefix.
type S3Uploader struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// S3UploaderOpts holds parameters for creating an S3Uploader.
type S3UploaderOpts struct {
	Bucket string
	Prefix string
	Region string
}

// NewS3Uploader creates an uploader. Credentials come from the usual AWS
// environment and profile chain.
func NewS3Uploader(opts S3UploaderOpts) (*S3Uploader, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive: s3 bucket is required")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(opts.Region)})
	if err != nil {
		return nil, fmt.Errorf("archive: create aws session: %w", err)
	}
	return &S3Uploader{
		uploader: s3manager.NewUploader(sess),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

// UploadBundle walks the bundle directory and uploads every file, keyed as
// <prefix>/<bundlePath>/<relative path>.
func (u *S3Uploader) UploadBundle(ctx context.Context, dir, bundlePath string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("archive: relativize %s: %w", path, err)
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("archive: open %s for upload: %w", path, err)
		}
		defer f.Close()

		key := filepath.ToSlash(filepath.Join(u.prefix, bundlePath, rel))
		_, err = u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
		if err != nil {
			return fmt.Errorf("archive: upload %s to s3://%s/%s: %w", rel, u.bucket, key, err)
		}
		return nil
	})
}
