package repository

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/letter-verify-server/internal/domain"
)

// CachedProvenanceStore wraps any ProvenanceStore with an in-memory LRU.
// Provenance records are immutable once written, so cached entries never go
// stale; the cache only bounds memory.
type CachedProvenanceStore struct {
	inner  domain.ProvenanceStore
	cache  *lru.Cache[string, *domain.ProvenanceRecord]
	logger *logrus.Logger
}

// NewCachedProvenanceStore wraps inner with an LRU of the given size.
func NewCachedProvenanceStore(inner domain.ProvenanceStore, size int, logger *logrus.Logger) (*CachedProvenanceStore, error) {
	cache, err := lru.New[string, *domain.ProvenanceRecord](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvenanceStore{
		inner:  inner,
		cache:  cache,
		logger: logger,
	}, nil
}

// Save writes through to the inner store and caches on success
func (s *CachedProvenanceStore) Save(ctx context.Context, record *domain.ProvenanceRecord) error {
	if err := s.inner.Save(ctx, record); err != nil {
		return err
	}
	s.cache.Add(record.Data.LetterID, record)
	return nil
}

// Get serves from cache when possible, falling back to the inner store
func (s *CachedProvenanceStore) Get(ctx context.Context, letterID string) (*domain.ProvenanceRecord, error) {
	if record, ok := s.cache.Get(letterID); ok {
		if s.logger != nil {
			s.logger.WithField("letter_id", letterID).Debug("Provenance cache hit")
		}
		return record, nil
	}

	record, err := s.inner.Get(ctx, letterID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(letterID, record)
	return record, nil
}
