package tika

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig locates the bucket PDFs are archived to.
type MinioConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// MinioArchive stores documents in an S3-compatible bucket under papers/<name>.pdf.
type MinioArchive struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

var _ Archive = (*MinioArchive)(nil)

// NewMinioArchive connects to the object store and creates the bucket when missing.
func NewMinioArchive(ctx context.Context, cfg MinioConfig) (*MinioArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	a := &MinioArchive{
		client: client,
		bucket: cfg.Bucket,
		logger: slog.Default().With("component", "minio-archive"),
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		a.logger.Info("creating bucket", "bucket", cfg.Bucket)
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", cfg.Bucket, err)
		}
	}
	return a, nil
}

// Put uploads data as a PDF object.
func (a *MinioArchive) Put(ctx context.Context, name string, data []byte) error {
	object := ObjectName(name)
	_, err := a.client.PutObject(ctx, a.bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", object, err)
	}
	a.logger.Debug("archived document", "object", object, "bytes", len(data))
	return nil
}

// ObjectName maps a document name to its object key, replacing anything
// other than letters, digits, '-' and '_' with '_'.
func ObjectName(name string) string {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".pdf")
	if name == "" {
		name = "paper"
	}
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)
	return "papers/" + safe + ".pdf"
}
