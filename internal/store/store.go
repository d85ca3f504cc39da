// Package store implements the block storage behind the simulated engine.
//
// Blocks are addressed by the base58 multihash of their content:
// - Get/Put/Has/Delete for single blocks
// - GetMulti/PutMulti fan out over a bounded pool
// - Filesystem-backed with an in-memory cache in front
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a block is not present.
var ErrNotFound = errors.New("block not found")

// Store handles block storage.
type Store interface {
	// Get retrieves a block by key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores a block and returns its key.
	Put(ctx context.Context, data []byte) (key string, err error)

	// Has checks if a block exists.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes a block. Deleting a missing block is not an error.
	Delete(ctx context.Context, key string) error

	// GetMulti retrieves multiple blocks (batch operation).
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)

	// PutMulti stores multiple blocks and returns their keys in input order.
	PutMulti(ctx context.Context, blocks [][]byte) ([]string, error)

	// Size is the number of bytes the stored blocks occupy on disk.
	Size() (int64, error)

	// Evict removes a block from cache (not from disk).
	Evict(key string)

	// Clear clears the in-memory cache.
	Clear()

	Close() error
}
