package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 10 * time.Second

// GCSMirror copies the log file to and from one Cloud Storage object, for
// hosts whose local disk does not survive a restart.
type GCSMirror struct {
	client *storage.Client
	bucket string
	object string
	mu     sync.Mutex
}

func NewGCSMirror(ctx context.Context, bucket, object string) (*GCSMirror, error) {
	if bucket == "" {
		return nil, errors.New("gcs mirror: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs mirror: %w", err)
	}
	return &GCSMirror{
		client: client,
		bucket: bucket,
		object: object,
	}, nil
}

// Download replaces the file at path with the object's content. A missing
// object is not an error.
func (g *GCSMirror) Download(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rc, err := g.client.Bucket(g.bucket).Object(g.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("gcs download %s/%s: %w", g.bucket, g.object, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".download"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("gcs download %s/%s: %w", g.bucket, g.object, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (g *GCSMirror) Upload(ctx context.Context, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(g.object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs upload %s/%s: %w", g.bucket, g.object, err)
	}
	return w.Close()
}

func (g *GCSMirror) Close() error {
	return g.client.Close()
}
