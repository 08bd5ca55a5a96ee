// Package objectstore provides access to the externally hosted media objects
// referenced by asset records.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the interface for object storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Write stores data at the given key.
	// If the key already exists, it is overwritten.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes data at the given key.
	// Returns nil if the key does not exist (idempotent).
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix.
	// The prefix uses "/" as the path separator.
	List(ctx context.Context, prefix string) ([]string, error)
}

// BatchDeleter is an optional Store capability for providers with a native
// batch-delete call. DeleteBatch returns the keys whose deletion could not
// be confirmed; a partial failure is not an error.
type BatchDeleter interface {
	Store

	DeleteBatch(ctx context.Context, keys []string) (failed []string, err error)
}
