package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/letter-verify-server/internal/domain"
)

// PostgresStore implements FlagStore and ProvenanceStore on PostgreSQL.
// Every query runs through a circuit breaker so a struggling database
// degrades to fast failures instead of piling up blocked requests.
type PostgresStore struct {
	db      *sql.DB
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewPostgresStore creates a new PostgreSQL-backed store.
// The connection string should be in lib/pq format.
func NewPostgresStore(connStr string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{
		db:     db,
		logger: logger,
	}
	store.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "postgres-store",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("Circuit breaker state changed")
			}
		},
	})

	return store, nil
}

// NewPostgresStoreWithDB wraps an existing connection, used in tests.
func NewPostgresStoreWithDB(db *sql.DB, logger *logrus.Logger) *PostgresStore {
	store := &PostgresStore{
		db:     db,
		logger: logger,
	}
	store.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "postgres-store",
	})
	return store
}

// execute runs fn through the circuit breaker.
func (s *PostgresStore) execute(fn func() (interface{}, error)) (interface{}, error) {
	return s.breaker.Execute(fn)
}

// SaveFlags stores the detector's flags for a letter in one transaction
func (s *PostgresStore) SaveFlags(ctx context.Context, letterID string, flags []domain.HallucinationFlag) error {
	_, err := s.execute(func() (interface{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		for _, flag := range flags {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO hallucination_flags (
					id, letter_id, segment_text, start_index, end_index,
					reason, severity, dismissed
				) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE)
			`,
				flag.ID, letterID, flag.SegmentText, flag.StartIndex, flag.EndIndex,
				flag.Reason, string(flag.Severity),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to insert flag %s: %w", flag.ID, err)
			}
		}
		return nil, tx.Commit()
	})
	return err
}

// GetFlags returns all flags stored for a letter
func (s *PostgresStore) GetFlags(ctx context.Context, letterID string) ([]domain.HallucinationFlag, error) {
	result, err := s.execute(func() (interface{}, error) {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, letter_id, segment_text, start_index, end_index,
			       reason, severity, dismissed, dismissed_at, dismissed_by, dismiss_reason
			FROM hallucination_flags
			WHERE letter_id = $1
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
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.HallucinationFlag), nil
}

// DismissFlag records a physician dismissal, at most once per flag
func (s *PostgresStore) DismissFlag(ctx context.Context, flagID, dismissedBy, reason string) error {
	_, err := s.execute(func() (interface{}, error) {
		result, err := s.db.ExecContext(ctx, `
			UPDATE hallucination_flags
			SET dismissed = TRUE, dismissed_at = $1, dismissed_by = $2, dismiss_reason = $3
			WHERE id = $4 AND dismissed = FALSE
		`, time.Now().UTC(), dismissedBy, reason, flagID)
		if err != nil {
			return nil, fmt.Errorf("failed to dismiss flag: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check dismissal: %w", err)
		}
		if affected == 0 {
			return nil, fmt.Errorf("flag %s not found or already dismissed", flagID)
		}
		return nil, nil
	})
	return err
}

// Save persists a provenance record. One record per letter, append-only.
func (s *PostgresStore) Save(ctx context.Context, record *domain.ProvenanceRecord) error {
	data, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("failed to serialize provenance data: %w", err)
	}

	_, err = s.execute(func() (interface{}, error) {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO provenance_records (letter_id, record_id, data, hash)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (letter_id) DO NOTHING
		`, record.Data.LetterID, record.Data.ID, string(data), record.Hash)
		if err != nil {
			return nil, fmt.Errorf("failed to insert provenance record: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check insert: %w", err)
		}
		if affected == 0 {
			return nil, domain.NewVerificationError(domain.ErrDuplicate,
				fmt.Sprintf("provenance record already exists for letter %s", record.Data.LetterID), "", "")
		}
		return nil, nil
	})
	return err
}

// Get loads the provenance record stored for a letter
func (s *PostgresStore) Get(ctx context.Context, letterID string) (*domain.ProvenanceRecord, error) {
	result, err := s.execute(func() (interface{}, error) {
		var data, hash string
		err := s.db.QueryRowContext(ctx,
			"SELECT data, hash FROM provenance_records WHERE letter_id = $1",
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
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ProvenanceRecord), nil
}

// Close closes the underlying database
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
