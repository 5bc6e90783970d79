package memory

import (
	"context"
	"sync"
	"time"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

var _ ports.BlobSink = (*Blobs)(nil)

// Blobs holds export output in process. Contents are lost on restart.
type Blobs struct {
	mu    sync.RWMutex
	blobs map[string]ports.Blob
}

func NewBlobs() *Blobs {
	return &Blobs{blobs: make(map[string]ports.Blob)}
}

func (b *Blobs) Put(ctx context.Context, blob ports.Blob) error {
	if blob.CreatedAt.IsZero() {
		blob.CreatedAt = time.Now().UTC()
	}
	blob.Data = append([]byte(nil), blob.Data...)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[blob.Key] = blob
	return nil
}

func (b *Blobs) Get(ctx context.Context, key string) (*ports.Blob, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	blob, ok := b.blobs[key]
	if !ok {
		return nil, domain.Errorf(domain.KindNotFound, "export blob %s not found", key)
	}
	blob.Data = append([]byte(nil), blob.Data...)
	return &blob, nil
}
