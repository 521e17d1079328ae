// Package gcs archives reports in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Config names the bucket reports land in.
type Config struct {
	Bucket string
}

// BlobStore writes reports to a GCS bucket. Objects are create-only: a report path is unique per
// cycle, so an existing object means an earlier attempt already succeeded.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket := strings.TrimSpace(strings.TrimPrefix(cfg.Bucket, "gs://"))
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{client: client, bucket: bucket}, nil
}

// PutObject uploads the report in a single request and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	uri := "gs://" + s.bucket + "/" + path

	obj := s.client.Bucket(s.bucket).Object(path).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ChunkSize = 0
	w.ContentType = contentType
	w.CacheControl = "no-cache"

	if _, err := io.Copy(w, r); err != nil {
		// Closing aborts the upload; the copy error is the one worth reporting.
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			return uri, nil
		}
		return "", fmt.Errorf("finalize %s: %w", uri, err)
	}
	return uri, nil
}

func alreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
