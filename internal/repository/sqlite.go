package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/letter-verify-server/internal/domain"
)

// SQLiteStore implements FlagStore and ProvenanceStore using an embedded
// SQLite database. Provenance rows are append-only: one record per letter,
// a second insert for the same letter is rejected.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS hallucination_flags (
		id TEXT PRIMARY KEY,
		letter_id TEXT NOT NULL,
		segment_text TEXT NOT NULL,
		start_index INTEGER NOT NULL,
		end_index INTEGER NOT NULL,
		reason TEXT NOT NULL,
		severity TEXT NOT NULL,
		dismissed INTEGER NOT NULL DEFAULT 0,
		dismissed_at DATETIME,
		dismissed_by TEXT DEFAULT '',
		dismiss_reason TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_flags_letter_id ON hallucination_flags(letter_id);

	CREATE TABLE IF NOT EXISTS provenance_records (
		letter_id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		data TEXT NOT NULL,
		hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := db.Exec(schema)
	return err
}

// SaveFlags stores the detector's flags for a letter version. Flags for a
// letter version are written once; dismissal is the only later mutation.
func (s *SQLiteStore) SaveFlags(ctx context.Context, letterID string, flags []domain.HallucinationFlag) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, flag := range flags {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO hallucination_flags (
				id, letter_id, segment_text, start_index, end_index,
				reason, severity, dismissed
			) VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		`,
			flag.ID, letterID, flag.SegmentText, flag.StartIndex, flag.EndIndex,
			flag.Reason, string(flag.Severity),
		)
		if err != nil {
			return fmt.Errorf("failed to insert flag %s: %w", flag.ID, err)
		}
	}

	return tx.Commit()
}

// GetFlags returns all flags stored for a letter
func (s *SQLiteStore) GetFlags(ctx context.Context, letterID string) ([]domain.HallucinationFlag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, letter_id, segment_text, start_index, end_index,
		       reason, severity, dismissed, dismissed_at, dismissed_by, dismiss_reason
		FROM hallucination_flags
		WHERE letter_id = ?
		ORDER BY start_index
	`, letterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flags: %w", err)
	}
	defer rows.Close()

	flags := make([]domain.HallucinationFlag, 0)
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, *flag)
	}
	return flags, rows.Err()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanFlag scans a row into a HallucinationFlag.
func scanFlag(s scanner) (*domain.HallucinationFlag, error) {
	flag := &domain.HallucinationFlag{}
	var severity string
	var dismissedAt sql.NullTime

	err := s.Scan(
		&flag.ID, &flag.LetterID, &flag.SegmentText, &flag.StartIndex, &flag.EndIndex,
		&flag.Reason, &severity, &flag.Dismissed, &dismissedAt,
		&flag.DismissedBy, &flag.DismissReason,
	)
	if err != nil {
		return nil, err
	}

	flag.Severity = domain.Severity(severity)
	if dismissedAt.Valid {
		t := dismissedAt.Time
		flag.DismissedAt = &t
	}
	return flag, nil
}

// DismissFlag records a physician dismissal. Dismissal happens at most
// once per flag; a second attempt is a no-op error.
func (s *SQLiteStore) DismissFlag(ctx context.Context, flagID, dismissedBy, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE hallucination_flags
		SET dismissed = 1, dismissed_at = ?, dismissed_by = ?, dismiss_reason = ?
		WHERE id = ? AND dismissed = 0
	`, time.Now().UTC(), dismissedBy, reason, flagID)
	if err != nil {
		return fmt.Errorf("failed to dismiss flag: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check dismissal: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("flag %s not found or already dismissed", flagID)
	}
	return nil
}

// Save persists a provenance record and its hash as one unit. The table is
// append-only per letter: an existing row for the letter is never replaced.
func (s *SQLiteStore) Save(ctx context.Context, record *domain.ProvenanceRecord) error {
	data, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("failed to serialize provenance data: %w", err)
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		"SELECT record_id FROM provenance_records WHERE letter_id = ?",
		record.Data.LetterID,
	).Scan(&existing)
	if err == nil {
		return domain.NewVerificationError(domain.ErrDuplicate,
			fmt.Sprintf("provenance record already exists for letter %s", record.Data.LetterID), "", "")
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check existing record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provenance_records (letter_id, record_id, data, hash)
		VALUES (?, ?, ?, ?)
	`, record.Data.LetterID, record.Data.ID, string(data), record.Hash)
	if err != nil {
		return fmt.Errorf("failed to insert provenance record: %w", err)
	}
	return nil
}

// Get loads the provenance record stored for a letter
func (s *SQLiteStore) Get(ctx context.Context, letterID string) (*domain.ProvenanceRecord, error) {
	var data, hash string
	err := s.db.QueryRowContext(ctx,
		"SELECT data, hash FROM provenance_records WHERE letter_id = ?",
		letterID,
	).Scan(&data, &hash)
	if err == sql.ErrNoRows {
		return nil, domain.NewVerificationError(domain.ErrNotFound,
			fmt.Sprintf("no provenance record for letter %s", letterID), "", "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance record: %w", err)
	}

	record := &domain.ProvenanceRecord{Hash: hash}
	if err := json.Unmarshal([]byte(data), &record.Data); err != nil {
		return nil, fmt.Errorf("failed to deserialize provenance data: %w", err)
	}
	return record, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
