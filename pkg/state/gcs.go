package state

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

// GCSBackend stores the document as a single GCS object. A GCS object
// becomes visible only when its writer closes successfully.
type GCSBackend struct {
	client *storage.Client
	bucket string
	key    string
}

// NewGCSBackend creates a backend using application default credentials
// plus any extra client options.
func NewGCSBackend(ctx context.Context, bucket, key string, opts ...option.ClientOption) (*GCSBackend, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs state backend requires a bucket")
	}
	if key == "" {
		key = "tap-tilroy/state.json"
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSBackend{client: client, bucket: bucket, key: key}, nil
}

func (b *GCSBackend) object() *storage.ObjectHandle {
	return b.client.Bucket(b.bucket).Object(b.key)
}

func (b *GCSBackend) Load(ctx context.Context) ([]byte, error) {
	r, err := b.object().NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", b.bucket, b.key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (b *GCSBackend) Save(ctx context.Context, data []byte) error {
	w := b.object().NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", b.bucket, b.key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("commit gs://%s/%s: %w", b.bucket, b.key, err)
	}
	return nil
}

func (b *GCSBackend) Close() error { return b.client.Close() }
func (b *GCSBackend) Name() string { return "gcs" }
