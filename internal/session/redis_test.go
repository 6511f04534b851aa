package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letter-verify-server/internal/domain"
)

// Integration tests requiring a live Redis. Set TEST_REDIS_URL to run, e.g.
// TEST_REDIS_URL=redis://localhost:6379/1 go test ./internal/session/
func createRedisStore(t *testing.T) *RedisSessionStore {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping Redis integration tests")
	}

	store, err := NewRedisSessionStore(url, 5*time.Minute, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestSessionRoundTrip(t *testing.T) {
	store := createRedisStore(t)
	ctx := context.Background()

	m := &domain.DeobfuscationMap{
		SessionID: "test-session-1",
		Tokens:    domain.TokenSet{Name: "[PATIENT_NAME_ab12cd34]"},
		PHI:       domain.PHI{Name: "John Citizen"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveMap(ctx, m))
	t.Cleanup(func() { store.DeleteMap(ctx, m.SessionID) })

	loaded, err := store.GetMap(ctx, "test-session-1")
	require.NoError(t, err)
	assert.Equal(t, m.Tokens.Name, loaded.Tokens.Name)
	assert.Equal(t, m.PHI.Name, loaded.PHI.Name)
}

func TestGetMapUnknownSession(t *testing.T) {
	store := createRedisStore(t)

	_, err := store.GetMap(context.Background(), "never-created")

	var verr *domain.VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, domain.ErrSessionExpired, verr.Code)
}

func TestDeleteMap(t *testing.T) {
	store := createRedisStore(t)
	ctx := context.Background()

	m := &domain.DeobfuscationMap{SessionID: "test-session-2", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.SaveMap(ctx, m))
	require.NoError(t, store.DeleteMap(ctx, m.SessionID))

	_, err := store.GetMap(ctx, m.SessionID)
	assert.Error(t, err)
}
