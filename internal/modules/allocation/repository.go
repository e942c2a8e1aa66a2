package allocation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles allocation target database operations.
// Database: config.db (allocation_targets table).
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new allocation repository.
// db parameter should be the config.db connection.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "allocation").Logger(),
	}
}

// List returns allocation targets, optionally filtered by type, ordered
// by (type, name) for deterministic output.
func (r *Repository) List(targetType string) ([]AllocationTarget, error) {
	query := "SELECT id, type, name, target_pct, created_at, updated_at FROM allocation_targets"
	var args []interface{}
	if targetType != "" {
		query += " WHERE type = ?"
		args = append(args, targetType)
	}
	query += " ORDER BY type, name"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation targets: %w", err)
	}
	defer rows.Close()

	var targets []AllocationTarget
	for rows.Next() {
		var target AllocationTarget
		var createdAtUnix, updatedAtUnix sql.NullInt64

		if err := rows.Scan(
			&target.ID,
			&target.Type,
			&target.Name,
			&target.TargetPct,
			&createdAtUnix,
			&updatedAtUnix,
		); err != nil {
			return nil, fmt.Errorf("failed to scan allocation target: %w", err)
		}

		if createdAtUnix.Valid {
			target.CreatedAt = time.Unix(createdAtUnix.Int64, 0).UTC()
		}
		if updatedAtUnix.Valid {
			target.UpdatedAt = time.Unix(updatedAtUnix.Int64, 0).UTC()
		}

		targets = append(targets, target)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating allocation targets: %w", err)
	}

	return targets, nil
}

// Targets returns targets of the given type as a name -> target_pct map.
func (r *Repository) Targets(targetType string) (map[string]float64, error) {
	targets, err := r.List(targetType)
	if err != nil {
		return nil, err
	}

	result := make(map[string]float64, len(targets))
	for _, t := range targets {
		result[t.Name] = t.TargetPct
	}

	return result, nil
}

// Upsert inserts or updates an allocation target. The UNIQUE(type, name)
// constraint plus ON CONFLICT gives last-committed-wins under concurrent
// writes without ever producing a duplicate key.
func (r *Repository) Upsert(target AllocationTarget) error {
	if target.TargetPct < 0 || target.TargetPct > 1 {
		return fmt.Errorf("target_pct must be in [0, 1], got %v", target.TargetPct)
	}

	now := time.Now().Unix()

	query := `
		INSERT INTO allocation_targets (type, name, target_pct, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(type, name) DO UPDATE SET
			target_pct = excluded.target_pct,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query, target.Type, target.Name, target.TargetPct, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert allocation target: %w", err)
	}

	r.log.Debug().
		Str("type", target.Type).
		Str("name", target.Name).
		Float64("target_pct", target.TargetPct).
		Msg("Allocation target upserted")

	return nil
}

// Delete removes an allocation target.
func (r *Repository) Delete(targetType, name string) error {
	result, err := r.db.Exec(
		"DELETE FROM allocation_targets WHERE type = ? AND name = ?",
		targetType, name,
	)
	if err != nil {
		return fmt.Errorf("failed to delete allocation target: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	r.log.Debug().
		Str("type", targetType).
		Str("name", name).
		Int64("rows_affected", rowsAffected).
		Msg("Allocation target deleted")

	return nil
}
