package planner

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// StatusRepository persists the published planner status snapshot.
// Database: cache.db (planner_status singleton row). The payload is
// msgpack-encoded; last write wins.
type StatusRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStatusRepository creates a new status repository.
// db parameter should be the cache.db connection.
func NewStatusRepository(db *sql.DB, log zerolog.Logger) *StatusRepository {
	return &StatusRepository{
		db:  db,
		log: log.With().Str("repo", "planner_status").Logger(),
	}
}

// Save atomically replaces the stored status snapshot.
func (r *StatusRepository) Save(status domain.PlannerStatus) error {
	payload, err := msgpack.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to encode planner status: %w", err)
	}

	query := `
		INSERT INTO planner_status (id, payload, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.Exec(query, payload, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save planner status: %w", err)
	}

	r.log.Debug().
		Str("run_id", status.RunID).
		Bool("success", status.Success).
		Msg("Planner status saved")

	return nil
}

// Load returns the stored status snapshot, or nil when no run has
// published yet.
func (r *StatusRepository) Load() (*domain.PlannerStatus, error) {
	var payload []byte
	err := r.db.QueryRow("SELECT payload FROM planner_status WHERE id = 1").Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load planner status: %w", err)
	}

	var status domain.PlannerStatus
	if err := msgpack.Unmarshal(payload, &status); err != nil {
		return nil, fmt.Errorf("failed to decode planner status: %w", err)
	}

	return &status, nil
}
