package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letter-verify-server/internal/domain"
)

func createMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresStoreWithDB(db, nil), mock
}

func TestPostgresGetFlags(t *testing.T) {
	store, mock := createMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "letter_id", "segment_text", "start_index", "end_index",
		"reason", "severity", "dismissed", "dismissed_at", "dismissed_by", "dismiss_reason",
	}).AddRow("f1", "letter-1", "The LAD shows 70% stenosis", 4, 30,
		"Unsourced vessel finding", "critical", false, nil, "", "")

	mock.ExpectQuery("SELECT id, letter_id, segment_text").
		WithArgs("letter-1").
		WillReturnRows(rows)

	flags, err := store.GetFlags(context.Background(), "letter-1")
	require.NoError(t, err)
	require.Len(t, flags, 1)

	assert.Equal(t, "f1", flags[0].ID)
	assert.Equal(t, domain.SeverityCritical, flags[0].Severity)
	assert.Nil(t, flags[0].DismissedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveFlags(t *testing.T) {
	store, mock := createMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO hallucination_flags").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SaveFlags(context.Background(), "letter-1", []domain.HallucinationFlag{
		{ID: "f1", SegmentText: "x", Reason: "r", Severity: domain.SeverityWarning},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDismissFlag(t *testing.T) {
	t.Run("dismisses once", func(t *testing.T) {
		store, mock := createMockStore(t)
		mock.ExpectExec("UPDATE hallucination_flags").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.DismissFlag(context.Background(), "f1", "dr-1", "checked")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already dismissed", func(t *testing.T) {
		store, mock := createMockStore(t)
		mock.ExpectExec("UPDATE hallucination_flags").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.DismissFlag(context.Background(), "f1", "dr-1", "checked")
		assert.Error(t, err)
	})
}

func TestPostgresSaveProvenanceDuplicate(t *testing.T) {
	store, mock := createMockStore(t)

	// ON CONFLICT DO NOTHING reports zero affected rows for a duplicate
	mock.ExpectExec("INSERT INTO provenance_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Save(context.Background(), testRecord("letter-1"))

	var verr *domain.VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, domain.ErrDuplicate, verr.Code)
}

func TestPostgresGetProvenance(t *testing.T) {
	store, mock := createMockStore(t)

	rows := sqlmock.NewRows([]string{"data", "hash"}).
		AddRow(`{"id":"rec-1","letter_id":"letter-1"}`, "deadbeef")
	mock.ExpectQuery("SELECT data, hash FROM provenance_records").
		WithArgs("letter-1").
		WillReturnRows(rows)

	record, err := store.Get(context.Background(), "letter-1")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", record.Hash)
	assert.Equal(t, "rec-1", record.Data.ID)
}

func TestPostgresGetProvenanceNotFound(t *testing.T) {
	store, mock := createMockStore(t)

	mock.ExpectQuery("SELECT data, hash FROM provenance_records").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"data", "hash"}))

	_, err := store.Get(context.Background(), "missing")

	var verr *domain.VerificationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, domain.ErrNotFound, verr.Code)
}
