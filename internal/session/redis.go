package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/letter-verify-server/internal/domain"
)

const keyPrefix = "deobfuscation:"

// RedisSessionStore keeps per-session de-obfuscation maps in Redis with a
// TTL. The map holds raw PHI, so it lives only in this short-lived store and
// is deleted explicitly when the session ends.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisSessionStore connects to Redis using a URL of the form
// redis://host:port/db.
func NewRedisSessionStore(url string, ttl time.Duration, logger *logrus.Logger) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisSessionStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// SaveMap stores the de-obfuscation map under its session ID with the
// configured TTL
func (s *RedisSessionStore) SaveMap(ctx context.Context, m *domain.DeobfuscationMap) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize deobfuscation map: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+m.SessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store deobfuscation map: %w", err)
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"session_id": m.SessionID,
			"ttl":        s.ttl.String(),
		}).Debug("Stored deobfuscation map")
	}
	return nil
}

// GetMap loads the de-obfuscation map for a session. A missing or expired
// session returns a session-expired error.
func (s *RedisSessionStore) GetMap(ctx context.Context, sessionID string) (*domain.DeobfuscationMap, error) {
	data, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.NewVerificationError(domain.ErrSessionExpired,
			fmt.Sprintf("no deobfuscation map for session %s", sessionID), "", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load deobfuscation map: %w", err)
	}

	var m domain.DeobfuscationMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to deserialize deobfuscation map: %w", err)
	}
	return &m, nil
}

// DeleteMap removes the map when the session ends
func (s *RedisSessionStore) DeleteMap(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyPrefix+sessionID).Err()
}

// Close releases the Redis connection
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
