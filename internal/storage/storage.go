package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: not found")

// SecretStore is durable storage for a small number of named secrets
// (password hash, wrapped master key, session token). Implementations are
// selected at construction time by the host; the engine never probes
// capabilities at call time.
type SecretStore interface {
	Get(name string) ([]byte, error)
	Set(name string, value []byte) error
	Delete(name string) error
	// Wipe removes every secret in the scoped service.
	Wipe() error
}

// MetadataStore is an opaque persistent string map. The whole file-record
// collection is serialized under a single key.
type MetadataStore interface {
	GetString(key string) (string, error)
	SetString(key, value string) error
	Delete(key string) error
	ClearAll() error
}

// BlobStore holds small whole ciphertext blobs, keyed by artifact id.
// Thumbnails live here; large file bodies go through the Sandbox instead.
type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}
