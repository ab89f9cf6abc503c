// Package storage provides object storage for uploaded assets.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"atelier/api/internal/util"
)

// Uploader stores a file and returns its public URL.
type Uploader interface {
	Put(ctx context.Context, filename, contentType string, r io.Reader, size int64) (string, error)
}

// MinioStore implements Uploader against a MinIO/S3 bucket.
type MinioStore struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMinioStore connects to the object store and makes sure the bucket
// exists. publicURL is the base under which uploaded objects are served;
// when empty, the endpoint itself is used.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket, publicURL string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s/%s", scheme, endpoint, bucket)
	}

	return &MinioStore{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Put stores the file under a collision-free object name and returns
// the public URL.
func (s *MinioStore) Put(ctx context.Context, filename, contentType string, r io.Reader, size int64) (string, error) {
	objectName := fmt.Sprintf("%s/%s%s",
		time.Now().UTC().Format("2006/01"),
		util.NewID(""),
		strings.ToLower(path.Ext(filename)),
	)

	_, err := s.client.PutObject(ctx, s.bucket, objectName, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return s.publicURL + "/" + objectName, nil
}
