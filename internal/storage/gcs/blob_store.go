// Package gcs uploads captured documents to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the bucket that holds captured deal-room documents.
type Config struct {
	Bucket string
}

// BlobStore streams staged documents into one GCS bucket. Object paths are
// chosen by the caller, typically prefix/deals/<deal>/<document>.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed document store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// PutObject uploads a document to the bucket and returns its gs:// URI. The
// object only becomes visible once the writer closes cleanly, so a capture
// that dies mid-upload leaves no partial document behind.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("object path is required")
	}
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("upload document: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("upload document: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize document upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
