package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader pushes export artifacts to S3-compatible object storage.
type Uploader struct {
	client *minio.Client
	bucket string
}

// NewUploader connects to a MinIO/S3 endpoint and ensures the bucket exists.
func NewUploader(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Uploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	return &Uploader{client: client, bucket: bucket}, nil
}

// Upload stores the artifact under a timestamped key and returns a presigned
// download URL valid for seven days.
func (u *Uploader) Upload(ctx context.Context, filename, mimeType string, data []byte) (string, error) {
	key := time.Now().UTC().Format("2006/01/02") + "/" + filename

	_, err := u.client.PutObject(
		ctx,
		u.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType},
	)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	url, err := u.client.PresignedGetObject(ctx, u.bucket, key, 7*24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("presign: %w", err)
	}
	return url.String(), nil
}
