package planner

import (
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	helmtesting "github.com/aristath/helmsman/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStatusRepository(t *testing.T) (*StatusRepository, func()) {
	t.Helper()
	db, cleanup := helmtesting.NewTestDB(t, "cache")
	return NewStatusRepository(db.Conn(), zerolog.Nop()), cleanup
}

func TestStatusRepository_LoadEmpty(t *testing.T) {
	repo, cleanup := newTestStatusRepository(t)
	defer cleanup()

	status, err := repo.Load()
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestStatusRepository_SaveAndLoad(t *testing.T) {
	repo, cleanup := newTestStatusRepository(t)
	defer cleanup()

	saved := domain.PlannerStatus{
		RunID:          "run-1",
		HasSequences:   true,
		TotalSequences: 3,
		GeneratedAt:    time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC),
		Summary:        "3 sequences generated",
		Success:        true,
	}
	require.NoError(t, repo.Save(saved))

	loaded, err := repo.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, saved.RunID, loaded.RunID)
	assert.Equal(t, saved.TotalSequences, loaded.TotalSequences)
	assert.True(t, loaded.HasSequences)
	assert.True(t, loaded.Success)
	assert.True(t, saved.GeneratedAt.Equal(loaded.GeneratedAt))
}

func TestStatusRepository_SaveOverwrites(t *testing.T) {
	repo, cleanup := newTestStatusRepository(t)
	defer cleanup()

	require.NoError(t, repo.Save(domain.PlannerStatus{RunID: "run-1", Success: true}))
	require.NoError(t, repo.Save(domain.PlannerStatus{RunID: "run-2", TotalSequences: 5, Success: true}))

	loaded, err := repo.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "run-2", loaded.RunID)
	assert.Equal(t, 5, loaded.TotalSequences)
}
