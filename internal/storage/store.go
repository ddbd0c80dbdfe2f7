package storage

import (
	"context"
	"io"
	"time"
)

// Store abstracts durable media object storage. Keys are slash-separated
// relative paths; Put returns the canonical key under which the object was
// stored.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// PresignGet returns a URL that grants read access to the object for the
	// given duration, suitable for handing to external processing services.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
