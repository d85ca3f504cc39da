package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aweris/codex-go/internal/compression"
	mh "github.com/multiformats/go-multihash"
	"github.com/sourcegraph/conc/pool"
)

// LocalStore implements Store using the local filesystem.
//
// Storage layout:
//
//	basePath/
//	  blocks/
//	    Xy/QmabcXy...  (sharded on the last two key characters)
//
// The leading characters of a base58 multihash are fixed by its prefix,
// so sharding uses the tail.
type LocalStore struct {
	basePath    string
	cache       Cache
	compressor  *compression.Compressor
	concurrency int
}

// Options configures a LocalStore.
type Options struct {
	CacheMB            int
	CacheTTL           time.Duration
	CompressionLevel   int
	CompressionEnabled bool
	Concurrency        int
}

// DefaultOptions returns the options used by the simulated engine.
func DefaultOptions() Options {
	return Options{
		CacheMB:            32,
		CacheTTL:           10 * time.Minute,
		CompressionLevel:   2,
		CompressionEnabled: true,
		Concurrency:        8,
	}
}

func NewLocalStore(basePath string, opts Options) (*LocalStore, error) {
	blocksDir := filepath.Join(basePath, "blocks")
	if err := os.MkdirAll(blocksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", blocksDir, err)
	}

	compressor, err := compression.NewCompressor(opts.CompressionLevel, opts.CompressionEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	cache, err := NewBigCache(opts.CacheMB, opts.CacheTTL)
	if err != nil {
		compressor.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	return &LocalStore{
		basePath:    basePath,
		cache:       cache,
		compressor:  compressor,
		concurrency: opts.Concurrency,
	}, nil
}

// Key returns the content key for data.
func Key(data []byte) (string, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return sum.B58String(), nil
}

// ValidKey reports whether key is a well-formed multihash.
func ValidKey(key string) bool {
	_, err := mh.FromB58String(key)
	return err == nil
}

// Get retrieves a block by key.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}

	path, err := s.blockPath(key)
	if err != nil {
		return nil, err
	}
	stored, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read block: %w", err)
	}

	data, err := s.compressor.Decompress(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress block %s: %w", key, err)
	}

	s.cache.Add(key, data)
	return data, nil
}

// Put stores a block and returns its key.
func (s *LocalStore) Put(ctx context.Context, data []byte) (string, error) {
	key, err := Key(data)
	if err != nil {
		return "", fmt.Errorf("failed to hash block: %w", err)
	}

	path, err := s.blockPath(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file first so a crash never leaves a torn block.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to write block: %w", err)
	}
	if _, err := tmp.Write(s.compressor.Compress(data)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write block: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write block: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write block: %w", err)
	}

	s.cache.Add(key, data)
	return key, nil
}

// Has checks if a block exists.
func (s *LocalStore) Has(ctx context.Context, key string) (bool, error) {
	if s.cache.Has(key) {
		return true, nil
	}

	path, err := s.blockPath(key)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete removes a block from disk and cache.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	s.cache.Remove(key)

	path, err := s.blockPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	return nil
}

// GetMulti retrieves multiple blocks in parallel.
func (s *LocalStore) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	var mu sync.Mutex
	result := make(map[string][]byte, len(keys))

	p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx).WithCancelOnError()
	for _, key := range keys {
		p.Go(func(ctx context.Context) error {
			data, err := s.Get(ctx, key)
			if err != nil {
				return err
			}
			mu.Lock()
			result[key] = data
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// PutMulti stores multiple blocks in parallel.
func (s *LocalStore) PutMulti(ctx context.Context, blocks [][]byte) ([]string, error) {
	keys := make([]string, len(blocks))

	p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx).WithCancelOnError()
	for i, data := range blocks {
		p.Go(func(ctx context.Context) error {
			key, err := s.Put(ctx, data)
			if err != nil {
				return err
			}
			keys[i] = key
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Size walks the block directory and sums file sizes.
func (s *LocalStore) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(filepath.Join(s.basePath, "blocks"), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

// Evict removes a block from cache.
func (s *LocalStore) Evict(key string) {
	s.cache.Remove(key)
}

// Clear clears the cache.
func (s *LocalStore) Clear() {
	s.cache.Clear()
}

func (s *LocalStore) Close() error {
	err := s.cache.Close()
	s.compressor.Close()
	return err
}

// blockPath returns the filesystem path for a block key.
func (s *LocalStore) blockPath(key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("invalid block key %q", key)
	}
	return filepath.Join(s.basePath, "blocks", key[len(key)-2:], key), nil
}

var _ Store = (*LocalStore)(nil)
