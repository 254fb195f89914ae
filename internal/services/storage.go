package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/chachabrian/mooveit-rides/internal/config"
)

// CallbackArchiver stores raw gateway callbacks for reconciliation.
type CallbackArchiver interface {
	Archive(ctx context.Context, reference string, payload []byte) (string, error)
}

type s3Uploader interface {
	UploadWithContext(ctx aws.Context, input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error)
}

// CallbackArchive writes callbacks to S3 when configured, else to a local
// directory.
type CallbackArchive struct {
	uploader s3Uploader
	bucket   string
	dir      string
	now      func() time.Time
}

// NewCallbackArchive picks S3 or local storage based on configuration
func NewCallbackArchive(cfg *config.Config, log logrus.FieldLogger) (*CallbackArchive, error) {
	if cfg.S3Configured() {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(cfg.AWSRegion),
			Credentials: credentials.NewStaticCredentials(
				cfg.AWSAccessKeyID,
				cfg.AWSSecretAccessKey,
				"", // Token (optional)
			),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}

		log.WithField("bucket", cfg.AWSS3Bucket).Info("Archiving payment callbacks to S3")
		return &CallbackArchive{uploader: s3manager.NewUploader(sess), bucket: cfg.AWSS3Bucket, now: time.Now}, nil
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	log.WithField("dir", cfg.ArchiveDir).Warn("AWS S3 not configured, archiving payment callbacks locally")
	return NewLocalCallbackArchive(cfg.ArchiveDir), nil
}

func NewLocalCallbackArchive(dir string) *CallbackArchive {
	return &CallbackArchive{dir: dir, now: time.Now}
}

// Archive stores payload under a date-partitioned key and returns its location.
func (a *CallbackArchive) Archive(ctx context.Context, reference string, payload []byte) (string, error) {
	if reference == "" {
		reference = "unreferenced"
	}
	now := a.now().UTC()
	name := fmt.Sprintf("%s-%d.json", filepath.Base(reference), now.UnixNano())
	day := now.Format("2006/01/02")

	if a.uploader != nil {
		key := path.Join("mpesa-callbacks", day, name)
		_, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return "", fmt.Errorf("failed to upload to S3: %w", err)
		}
		return "s3://" + a.bucket + "/" + key, nil
	}

	folder := filepath.Join(a.dir, filepath.FromSlash(day))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("failed to create folder directory: %w", err)
	}
	file := filepath.Join(folder, name)
	if err := os.WriteFile(file, payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	return file, nil
}
