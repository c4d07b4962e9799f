package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/raakeshmj/licensegate/internal/repository"
)

type blob struct {
	data    []byte
	version uint64
}

// MemoryRepository is an in-process BlobStore for development and tests.
type MemoryRepository struct {
	blobs map[string]blob
	seq   uint64
	mu    sync.RWMutex
}

func New() *MemoryRepository {
	return &MemoryRepository{
		blobs: make(map[string]blob),
	}
}

func (r *MemoryRepository) Get(ctx context.Context, key string) ([]byte, repository.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blobs[key]
	if !ok {
		return nil, "", repository.ErrNotFound
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, formatVersion(b.version), nil
}

func (r *MemoryRepository) PutIfVersion(ctx context.Context, key string, data []byte, version repository.Version) (repository.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.blobs[key]
	switch {
	case !exists && version != "":
		return "", repository.ErrVersionConflict
	case exists && formatVersion(current.version) != version:
		return "", repository.ErrVersionConflict
	}

	r.seq++
	stored := make([]byte, len(data))
	copy(stored, data)
	r.blobs[key] = blob{data: stored, version: r.seq}
	return formatVersion(r.seq), nil
}

// Set stores data unconditionally. Used for seeding.
func (r *MemoryRepository) Set(key string, data []byte) repository.Version {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	stored := make([]byte, len(data))
	copy(stored, data)
	r.blobs[key] = blob{data: stored, version: r.seq}
	return formatVersion(r.seq)
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

func formatVersion(v uint64) repository.Version {
	return repository.Version(strconv.FormatUint(v, 10))
}

// Interface check
var _ repository.BlobStore = (*MemoryRepository)(nil)
var _ repository.Pinger = (*MemoryRepository)(nil)
