package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/raakeshmj/licensegate/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_GetMissing(t *testing.T) {
	r := New()
	_, _, err := r.Get(context.Background(), "accounts.json")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMemoryRepository_CreateThenConditionalWrite(t *testing.T) {
	ctx := context.Background()
	r := New()

	v1, err := r.PutIfVersion(ctx, "k", []byte("one"), "")
	require.NoError(t, err)

	_, err = r.PutIfVersion(ctx, "k", []byte("again"), "")
	assert.ErrorIs(t, err, repository.ErrVersionConflict, "create must fail once the key exists")

	v2, err := r.PutIfVersion(ctx, "k", []byte("two"), v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = r.PutIfVersion(ctx, "k", []byte("stale"), v1)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	data, v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	assert.Equal(t, v2, v)
}

func TestMemoryRepository_UnknownVersionOnMissingKey(t *testing.T) {
	r := New()
	_, err := r.PutIfVersion(context.Background(), "k", []byte("x"), "7")
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
}

func TestMemoryRepository_OnlyOneConcurrentWriterWins(t *testing.T) {
	ctx := context.Background()
	r := New()
	v := r.Set("k", []byte("base"))

	const writers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.PutIfVersion(ctx, "k", []byte("w"), v); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryRepository_GetReturnsCopy(t *testing.T) {
	r := New()
	r.Set("k", []byte("abc"))

	data, _, err := r.Get(context.Background(), "k")
	require.NoError(t, err)
	data[0] = 'z'

	again, _, err := r.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}
