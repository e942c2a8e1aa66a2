package statefile

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDropFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestClient_Snapshot(t *testing.T) {
	dir := t.TempDir()
	writeDropFile(t, dir, "portfolio.json", `{
		"positions": [{"symbol": "AAPL", "quantity": 10, "current_price": 150}],
		"cash_eur": 500
	}`)

	client := New(dir, zerolog.Nop())
	snapshot, err := client.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot.Positions, 1)
	assert.Equal(t, 500.0, snapshot.CashEUR)
	assert.Equal(t, 1500.0, snapshot.TotalValue())
}

func TestClient_SnapshotMissingFile(t *testing.T) {
	client := New(t.TempDir(), zerolog.Nop())
	_, err := client.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read portfolio.json")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestClient_Securities(t *testing.T) {
	dir := t.TempDir()
	writeDropFile(t, dir, "universe.json", `{
		"AAPL": {"symbol": "AAPL", "country_groups": ["US"], "lot_size": 1}
	}`)

	client := New(dir, zerolog.Nop())
	securities, err := client.Securities(context.Background())
	require.NoError(t, err)
	require.Contains(t, securities, "AAPL")
	assert.Equal(t, []string{"US"}, securities["AAPL"].CountryGroups)
}

func TestClient_BucketPerformanceMissingIsEmpty(t *testing.T) {
	client := New(t.TempDir(), zerolog.Nop())
	performances, err := client.BucketPerformance(context.Background())
	require.NoError(t, err)
	assert.Empty(t, performances)
}

func TestClient_BucketPerformance(t *testing.T) {
	dir := t.TempDir()
	writeDropFile(t, dir, "performance.json", `[
		{"bucket_id": "growth", "starting_value": 1000, "current_value": 1250}
	]`)

	client := New(dir, zerolog.Nop())
	performances, err := client.BucketPerformance(context.Background())
	require.NoError(t, err)
	require.Len(t, performances, 1)
	assert.Equal(t, "growth", performances[0].BucketID)
}

func TestClient_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeDropFile(t, dir, "portfolio.json", `{not json`)

	client := New(dir, zerolog.Nop())
	_, err := client.Snapshot(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestClient_PriceHistory(t *testing.T) {
	dir := t.TempDir()
	writeDropFile(t, dir, "prices.json", `{"AAPL": [100, 101, 99.5]}`)

	client := New(dir, zerolog.Nop())
	series, err := client.PriceHistory(context.Background())
	require.NoError(t, err)
	require.Contains(t, series, "AAPL")
	assert.Equal(t, []float64{100, 101, 99.5}, series["AAPL"])
}

func TestClient_PriceHistoryMissingIsEmpty(t *testing.T) {
	client := New(t.TempDir(), zerolog.Nop())
	series, err := client.PriceHistory(context.Background())
	require.NoError(t, err)
	assert.Empty(t, series)
}
