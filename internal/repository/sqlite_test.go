package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letter-verify-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dir, err := os.MkdirTemp("", "letter-verify-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func testFlags(letterID string) []domain.HallucinationFlag {
	return []domain.HallucinationFlag{
		{
			ID: "f1", LetterID: letterID, SegmentText: "The LAD shows 70% stenosis",
			StartIndex: 4, EndIndex: 30,
			Reason: "Unsourced vessel finding", Severity: domain.SeverityCritical,
		},
		{
			ID: "f2", LetterID: letterID, SegmentText: "EF of 55%",
			StartIndex: 40, EndIndex: 49,
			Reason: "Unsourced measurement", Severity: domain.SeverityWarning,
		},
	}
}

func testRecord(letterID string) *domain.ProvenanceRecord {
	return &domain.ProvenanceRecord{
		Data: domain.ProvenanceData{
			ID:        "rec-" + letterID,
			LetterID:  letterID,
			PatientID: "patient-1",
			Review: domain.ReviewMetadata{
				PhysicianID:    "dr-1",
				PercentChanged: 12.5,
			},
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		},
		Hash: "deadbeef",
	}
}

func TestSaveAndGetFlags(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveFlags(ctx, "letter-1", testFlags("letter-1")))

	flags, err := store.GetFlags(ctx, "letter-1")
	require.NoError(t, err)
	require.Len(t, flags, 2)

	// Ordered by start index
	assert.Equal(t, "f1", flags[0].ID)
	assert.Equal(t, domain.SeverityCritical, flags[0].Severity)
	assert.False(t, flags[0].Dismissed)
	assert.Nil(t, flags[0].DismissedAt)
}

func TestGetFlagsUnknownLetter(t *testing.T) {
	store := createTestStore(t)

	flags, err := store.GetFlags(context.Background(), "no-such-letter")
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestDismissFlag(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveFlags(ctx, "letter-1", testFlags("letter-1")))

	require.NoError(t, store.DismissFlag(ctx, "f1", "dr-2", "verified against imaging report"))

	flags, err := store.GetFlags(ctx, "letter-1")
	require.NoError(t, err)

	assert.True(t, flags[0].Dismissed)
	assert.Equal(t, "dr-2", flags[0].DismissedBy)
	assert.Equal(t, "verified against imaging report", flags[0].DismissReason)
	require.NotNil(t, flags[0].DismissedAt)

	// Second flag untouched
	assert.False(t, flags[1].Dismissed)
}

func TestDismissFlagOnlyOnce(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveFlags(ctx, "letter-1", testFlags("letter-1")))

	require.NoError(t, store.DismissFlag(ctx, "f1", "dr-2", "first"))
	err := store.DismissFlag(ctx, "f1", "dr-3", "second")
	require.Error(t, err)

	flags, err := store.GetFlags(ctx, "letter-1")
	require.NoError(t, err)
	assert.Equal(t, "dr-2", flags[0].DismissedBy)
	assert.Equal(t, "first", flags[0].DismissReason)
}

func TestDismissUnknownFlag(t *testing.T) {
	store := createTestStore(t)

	err := store.DismissFlag(context.Background(), "missing", "dr-1", "r")
	assert.Error(t, err)
}

func TestSaveAndGetProvenance(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	record := testRecord("letter-1")
	require.NoError(t, store.Save(ctx, record))

	loaded, err := store.Get(ctx, "letter-1")
	require.NoError(t, err)

	assert.Equal(t, record.Hash, loaded.Hash)
	assert.Equal(t, record.Data.ID, loaded.Data.ID)
	assert.Equal(t, record.Data.Review.PercentChanged, loaded.Data.Review.PercentChanged)
}

func TestProvenanceIsAppendOnly(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	first := testRecord("letter-1")
	require.NoError(t, store.Save(ctx, first))

	second := testRecord("letter-1")
	second.Hash = "cafebabe"
	err := store.Save(ctx, second)

	var verr *domain.VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, domain.ErrDuplicate, verr.Code)

	// The original record survives untouched
	loaded, err := store.Get(ctx, "letter-1")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", loaded.Hash)
}

func TestGetProvenanceNotFound(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Get(context.Background(), "missing")

	var verr *domain.VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, domain.ErrNotFound, verr.Code)
}
