package cooldown

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store persists per-bucket cooldown start timestamps.
// Database: config.db (bucket_cooldowns table).
// Only the start timestamp is stored - all other status fields are
// recomputed from it on every evaluation.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new cooldown store backed by config.db
func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("repo", "cooldown").Logger(),
	}
}

// GetStart returns the persisted cooldown start for a bucket, or nil
// when no cooldown is recorded.
func (s *Store) GetStart(bucketID string) (*string, error) {
	var start string
	err := s.db.QueryRow(
		"SELECT cooldown_start FROM bucket_cooldowns WHERE bucket_id = ?",
		bucketID,
	).Scan(&start)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cooldown start: %w", err)
	}
	return &start, nil
}

// SetStart records a cooldown start for a bucket (last-committed-wins).
func (s *Store) SetStart(bucketID, start string) error {
	now := time.Now().Unix()

	_, err := s.db.Exec(`
		INSERT INTO bucket_cooldowns (bucket_id, cooldown_start, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(bucket_id) DO UPDATE SET
			cooldown_start = excluded.cooldown_start,
			updated_at = excluded.updated_at
	`, bucketID, start, now)
	if err != nil {
		return fmt.Errorf("failed to upsert cooldown start: %w", err)
	}

	s.log.Debug().
		Str("bucket_id", bucketID).
		Str("cooldown_start", start).
		Msg("Cooldown start recorded")

	return nil
}

// Clear removes the cooldown record for a bucket.
func (s *Store) Clear(bucketID string) error {
	_, err := s.db.Exec("DELETE FROM bucket_cooldowns WHERE bucket_id = ?", bucketID)
	if err != nil {
		return fmt.Errorf("failed to clear cooldown: %w", err)
	}

	s.log.Debug().Str("bucket_id", bucketID).Msg("Cooldown cleared")
	return nil
}
