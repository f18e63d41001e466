package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kennygrant/sanitize"
	"go.uber.org/zap"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

// Stager copies completed downloads out of the browser-managed directory
// into the per-job staging area. Copy, never move: the browser may still be
// flushing the source, and a failed copy must leave the original intact.
type Stager struct {
	root   string
	hasher engine.Hasher
	clock  engine.Clock
	logger *zap.Logger
}

// NewStager roots the staging area at dir.
func NewStager(dir string, hasher engine.Hasher, clock engine.Clock, logger *zap.Logger) *Stager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stager{root: dir, hasher: hasher, clock: clock, logger: logger}
}

// Stage places the capture under <root>/<jobID>/ with a sanitized filename
// and returns the document record for persistence.
func (s *Stager) Stage(ctx context.Context, jobID, dealID string, cap Capture) (engine.DocumentRecord, error) {
	if err := ctx.Err(); err != nil {
		return engine.DocumentRecord{}, err
	}

	data, err := os.ReadFile(cap.Path)
	if err != nil {
		return engine.DocumentRecord{}, fmt.Errorf("read captured file: %w", err)
	}
	if len(data) == 0 {
		return engine.DocumentRecord{}, fmt.Errorf("captured file %s is empty", cap.Path)
	}

	sum, err := s.hasher.Hash(data)
	if err != nil {
		return engine.DocumentRecord{}, fmt.Errorf("hash captured file: %w", err)
	}

	jobDir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return engine.DocumentRecord{}, fmt.Errorf("create staging dir: %w", err)
	}

	name := cleanName(cap.Name())
	dest, err := uniquePath(jobDir, name)
	if err != nil {
		return engine.DocumentRecord{}, err
	}
	if err := writeAtomic(dest, data); err != nil {
		return engine.DocumentRecord{}, fmt.Errorf("stage %s: %w", name, err)
	}

	s.logger.Info("document staged",
		zap.String("job_id", jobID),
		zap.String("name", filepath.Base(dest)),
		zap.Int64("size_bytes", int64(len(data))),
		zap.String("sha256", sum))

	return engine.DocumentRecord{
		JobID:       jobID,
		DealID:      dealID,
		Name:        filepath.Base(dest),
		SizeBytes:   int64(len(data)),
		ContentHash: sum,
		BlobURI:     "file://" + dest,
		StagedAt:    s.clock.Now(),
	}, nil
}

// cleanName strips path components and hostile characters while keeping the
// extension readable.
func cleanName(name string) string {
	name = filepath.Base(name)
	cleaned := sanitize.BaseName(strings.TrimSuffix(name, filepath.Ext(name)))
	if cleaned == "" {
		cleaned = "document"
	}
	return cleaned + strings.ToLower(filepath.Ext(name))
}

// uniquePath appends -2, -3, ... before the extension until the name is free.
func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; i < 1000; i++ {
		candidate := name
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		full := filepath.Join(dir, candidate)
		if _, err := os.Stat(full); os.IsNotExist(err) {
			return full, nil
		}
	}
	return "", fmt.Errorf("no free staging name for %s", name)
}

// writeAtomic lands the bytes under a temp name and renames into place so a
// crash never leaves a half-written staged document.
func writeAtomic(dest string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".staging-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dest)
}
