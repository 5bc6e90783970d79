package ports

import (
	"context"
	"time"
)

type Blob struct {
	Key         string
	ContentType string
	Filename    string
	Data        []byte
	CreatedAt   time.Time
}

// BlobSink stores generated export files.
type BlobSink interface {
	Put(ctx context.Context, b Blob) error
	Get(ctx context.Context, key string) (*Blob, error)
}
