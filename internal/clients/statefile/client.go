// Package statefile reads collaborator state from JSON drop files.
// External collaborators (broker sync, market-data fetchers) write the
// current portfolio snapshot, security universe, bucket performance
// and price history into the data directory; the planner reads
// whatever is there at the start of a run.
package statefile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// Drop file names inside the data directory.
const (
	portfolioFile   = "portfolio.json"
	universeFile    = "universe.json"
	performanceFile = "performance.json"
	pricesFile      = "prices.json"
)

// Client reads collaborator drop files from a single directory.
type Client struct {
	dir string
	log zerolog.Logger
}

// New creates a state file client rooted at the data directory.
func New(dir string, log zerolog.Logger) *Client {
	return &Client{
		dir: dir,
		log: log.With().Str("component", "statefile").Logger(),
	}
}

// Snapshot reads the current portfolio snapshot. A missing or invalid
// file is an error: planning without a portfolio view is meaningless.
func (c *Client) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	if err := c.read(ctx, portfolioFile, &snapshot); err != nil {
		return domain.Snapshot{}, err
	}
	return snapshot, nil
}

// Securities reads the tradeable universe keyed by symbol.
func (c *Client) Securities(ctx context.Context) (map[string]domain.Security, error) {
	var securities map[string]domain.Security
	if err := c.read(ctx, universeFile, &securities); err != nil {
		return nil, err
	}
	return securities, nil
}

// BucketPerformance reads per-bucket lookback performance. A missing
// file means no cooldown inputs, not a failure.
func (c *Client) BucketPerformance(ctx context.Context) ([]domain.BucketPerformance, error) {
	var performances []domain.BucketPerformance
	err := c.read(ctx, performanceFile, &performances)
	if errors.Is(err, fs.ErrNotExist) {
		c.log.Debug().Msg("No performance drop file, skipping cooldown inputs")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return performances, nil
}

// PriceHistory reads per-symbol daily closing price series, oldest
// first. A missing file means the market-data collaborator has not
// dropped anything yet, not a failure.
func (c *Client) PriceHistory(ctx context.Context) (map[string][]float64, error) {
	var series map[string][]float64
	err := c.read(ctx, pricesFile, &series)
	if errors.Is(err, fs.ErrNotExist) {
		c.log.Debug().Msg("No price history drop file")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return series, nil
}

func (c *Client) read(ctx context.Context, name string, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(c.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		// Wrapping preserves errors.Is(err, fs.ErrNotExist) for callers
		// that treat a missing file as empty input
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}
