// Package storage keeps cache snapshots in an S3-compatible object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/animehub/backend/internal/config"
)

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3SnapshotStore reads and writes a single snapshot object.
type S3SnapshotStore struct {
	getter   objectGetter
	uploader objectUploader
	bucket   string
	key      string
}

// NewS3SnapshotStore configures a client for the snapshot bucket. A custom
// endpoint switches to path-style addressing for MinIO and friends.
func NewS3SnapshotStore(ctx context.Context, cfg config.SnapshotConfig) (*S3SnapshotStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3 snapshot: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return newS3SnapshotStore(client, uploader, cfg.Bucket, cfg.Key)
}

func newS3SnapshotStore(getter objectGetter, uploader objectUploader, bucket, key string) (*S3SnapshotStore, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return nil, errors.New("s3 snapshot: empty key")
	}
	return &S3SnapshotStore{getter: getter, uploader: uploader, bucket: bucket, key: key}, nil
}

// Location reports the object the store reads and writes.
func (s *S3SnapshotStore) Location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key)
}

// Save replaces the snapshot object with the contents of r.
func (s *S3SnapshotStore) Save(ctx context.Context, r io.Reader) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        r,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 snapshot upload %s: %w", s.key, err)
	}
	return nil
}

// Open returns the current snapshot. ok is false when none has been written yet.
func (s *S3SnapshotStore) Open(ctx context.Context) (body io.ReadCloser, ok bool, err error) {
	out, err := s.getter.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3 snapshot download %s: %w", s.key, err)
	}
	return out.Body, true, nil
}
