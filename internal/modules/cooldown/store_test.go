package cooldown

import (
	"testing"
	"time"

	helmtesting "github.com/aristath/helmsman/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	db, cleanup := helmtesting.NewTestDB(t, "config")
	return NewStore(db.Conn(), zerolog.Nop()), cleanup
}

func TestStore_GetStartEmpty(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	start, err := store.GetStart("growth")
	require.NoError(t, err)
	assert.Nil(t, start)
}

func TestStore_SetAndGetStart(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	stamp := time.Now().UTC().Format(time.RFC3339)
	require.NoError(t, store.SetStart("growth", stamp))

	start, err := store.GetStart("growth")
	require.NoError(t, err)
	require.NotNil(t, start)
	assert.Equal(t, stamp, *start)
}

func TestStore_SetStartOverwrites(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(t, store.SetStart("growth", "2026-01-01T00:00:00Z"))
	require.NoError(t, store.SetStart("growth", "2026-02-01T00:00:00Z"))

	start, err := store.GetStart("growth")
	require.NoError(t, err)
	require.NotNil(t, start)
	assert.Equal(t, "2026-02-01T00:00:00Z", *start)
}

func TestStore_Clear(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	require.NoError(t, store.SetStart("growth", "2026-01-01T00:00:00Z"))
	require.NoError(t, store.Clear("growth"))

	start, err := store.GetStart("growth")
	require.NoError(t, err)
	assert.Nil(t, start)

	// Clearing an absent bucket is a no-op
	require.NoError(t, store.Clear("value"))
}
