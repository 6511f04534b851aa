package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letter-verify-server/internal/domain"
)

// countingStore counts inner Get calls to observe cache behavior
type countingStore struct {
	inner domain.ProvenanceStore
	gets  int
}

func (c *countingStore) Save(ctx context.Context, record *domain.ProvenanceRecord) error {
	return c.inner.Save(ctx, record)
}

func (c *countingStore) Get(ctx context.Context, letterID string) (*domain.ProvenanceRecord, error) {
	c.gets++
	return c.inner.Get(ctx, letterID)
}

func TestCachedProvenanceStore(t *testing.T) {
	inner := &countingStore{inner: createTestStore(t)}
	cached, err := NewCachedProvenanceStore(inner, 8, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, cached.Save(ctx, testRecord("letter-1")))

	// Save populated the cache, so reads skip the inner store entirely
	for i := 0; i < 3; i++ {
		record, err := cached.Get(ctx, "letter-1")
		require.NoError(t, err)
		assert.Equal(t, "deadbeef", record.Hash)
	}
	assert.Equal(t, 0, inner.gets)
}

func TestCachedProvenanceStoreMissFallsThrough(t *testing.T) {
	store := createTestStore(t)
	require.NoError(t, store.Save(context.Background(), testRecord("letter-2")))

	inner := &countingStore{inner: store}
	cached, err := NewCachedProvenanceStore(inner, 8, nil)
	require.NoError(t, err)

	record, err := cached.Get(context.Background(), "letter-2")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", record.Hash)
	assert.Equal(t, 1, inner.gets)

	// Second read is served from cache
	_, err = cached.Get(context.Background(), "letter-2")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)
}

func TestCachedProvenanceStoreErrorNotCached(t *testing.T) {
	inner := &countingStore{inner: createTestStore(t)}
	cached, err := NewCachedProvenanceStore(inner, 8, nil)
	require.NoError(t, err)

	_, err = cached.Get(context.Background(), "missing")
	assert.Error(t, err)
	_, err = cached.Get(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, 2, inner.gets)
}
