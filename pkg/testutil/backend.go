package testutil

import (
	"context"
	"sync"

	"github.com/ajitpratap0/tap-tilroy/pkg/state"
)

// FailingBackend wraps a memory backend whose saves can be made to fail.
type FailingBackend struct {
	*state.MemoryBackend

	mu      sync.Mutex
	saveErr error
}

// NewFailingBackend creates a backend holding initial.
func NewFailingBackend(initial []byte) *FailingBackend {
	return &FailingBackend{MemoryBackend: state.NewMemoryBackend(initial)}
}

// SetSaveErr makes subsequent saves fail with err; nil restores them.
func (b *FailingBackend) SetSaveErr(err error) {
	b.mu.Lock()
	b.saveErr = err
	b.mu.Unlock()
}

func (b *FailingBackend) Save(ctx context.Context, data []byte) error {
	b.mu.Lock()
	err := b.saveErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryBackend.Save(ctx, data)
}

// Document decodes the last saved document.
func (b *FailingBackend) Document() (*state.State, error) {
	data, err := b.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return state.Decode(data)
}
