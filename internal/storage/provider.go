// Package storage selects and constructs the blob backend used to republish
// staged documents.
package storage

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"

	"github.com/dealbridge/dealroom-capture/internal/config"
	"github.com/dealbridge/dealroom-capture/internal/engine"
	"github.com/dealbridge/dealroom-capture/internal/storage/gcs"
	"github.com/dealbridge/dealroom-capture/internal/storage/local"
	"github.com/dealbridge/dealroom-capture/internal/storage/memory"
)

// New builds the engine.BlobStore named by cfg.Backend. The gcs backend
// authenticates through Application Default Credentials.
func New(ctx context.Context, cfg config.StorageConfig) (engine.BlobStore, error) {
	switch cfg.Backend {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store: %w", err)
		}
		return store, nil
	case "memory":
		return memory.NewBlobStore(), nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
