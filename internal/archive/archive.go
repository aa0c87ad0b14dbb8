// Package archive keeps audit copies of accepted capture images in
// object storage. The device works fine without it; templates in the
// database are the record of truth.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/checador/device/config"
)

// Backend defines the object operations the archive needs.
type Backend interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Archive wraps an object storage backend with the capture-audit API.
type Archive struct {
	backend Backend
}

// New constructs the archive for the configured backend; a nil archive
// is returned when archiving is disabled.
func New(ctx context.Context, cfg config.ArchiveConfig) (*Archive, error) {
	var backend Backend
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		client, err := NewMinioBackend(cfg.Minio)
		if err != nil {
			return nil, err
		}
		backend = client
	case "gcs":
		client, err := NewGCSBackend(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		backend = client
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}

	archive := &Archive{backend: backend}
	if err := archive.backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure archive bucket: %w", err)
	}
	return archive, nil
}

// Store uploads one capture image under the given key.
func (a *Archive) Store(ctx context.Context, key string, data []byte, contentType string) error {
	return a.backend.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// Fetch opens a stored capture image.
func (a *Archive) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	return a.backend.Get(ctx, key)
}
