package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/cooldown"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/sequences"
	"github.com/aristath/helmsman/internal/modules/sequences/filters"
	helmtesting "github.com/aristath/helmsman/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPortfolio struct {
	mu       sync.Mutex
	snapshot domain.Snapshot
	err      error
	gate     chan struct{} // when set, Snapshot blocks until closed
	calls    int
}

func (s *stubPortfolio) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Snapshot{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot, s.err
}

func (s *stubPortfolio) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubUniverse struct {
	securities map[string]domain.Security
	err        error
}

func (s *stubUniverse) Securities(ctx context.Context) (map[string]domain.Security, error) {
	return s.securities, s.err
}

type stubPerformance struct {
	performances []domain.BucketPerformance
	err          error
}

func (s *stubPerformance) BucketPerformance(ctx context.Context) ([]domain.BucketPerformance, error) {
	return s.performances, s.err
}

func testPlanningConfig() config.PlanningConfig {
	return config.PlanningConfig{
		MinDeviation:        0.05,
		GroupTolerance:      0.02,
		MinTradeValueEUR:    50.0,
		CooldownDays:        30,
		TriggerThreshold:    0.20,
		AggressionReduction: 0.25,
		BaseAggression:      1.0,
	}
}

// testFixture wires a planner against real repositories on throwaway
// databases and stubbed external collaborators.
type testFixture struct {
	planner   *Planner
	portfolio *stubPortfolio
	allocRepo *allocation.Repository
	broadcast *events.Broadcaster
}

func newTestPlanner(t *testing.T, portfolio *stubPortfolio, universe *stubUniverse, performance *stubPerformance) (*testFixture, func()) {
	t.Helper()
	log := zerolog.Nop()

	configDB, cleanupConfig := helmtesting.NewTestDB(t, "config")
	cacheDB, cleanupCache := helmtesting.NewTestDB(t, "cache")

	cfg := testPlanningConfig()
	allocRepo := allocation.NewRepository(configDB.Conn(), log)
	broadcaster := events.NewBroadcaster(log)

	p := New(cfg, Deps{
		Portfolio:     portfolio,
		Universe:      universe,
		Performance:   performance,
		AllocRepo:     allocRepo,
		CooldownCalc:  cooldown.NewCalculator(log),
		CooldownStore: cooldown.NewStore(configDB.Conn(), log),
		Detector:      opportunities.New(cfg.MinDeviation, log),
		Generator:     sequences.NewGenerator(log),
		Pipeline:      filters.NewPipeline(log),
		StatusRepo:    NewStatusRepository(cacheDB.Conn(), log),
		Broadcaster:   broadcaster,
		Invalidations: events.NewInvalidationBroadcaster(log),
	}, log)

	cleanup := func() {
		cleanupConfig()
		cleanupCache()
	}
	return &testFixture{
		planner:   p,
		portfolio: portfolio,
		allocRepo: allocRepo,
		broadcast: broadcaster,
	}, cleanup
}

func seedTarget(t *testing.T, repo *allocation.Repository, groupType, name string, pct float64) {
	t.Helper()
	require.NoError(t, repo.Upsert(allocation.AllocationTarget{
		Type:      groupType,
		Name:      name,
		TargetPct: pct,
	}))
}

func waitForState(t *testing.T, p *Planner, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.State() == want
	}, 2*time.Second, 5*time.Millisecond, "planner never reached %s", want)
}

func waitForRunDone(t *testing.T, p *Planner) {
	t.Helper()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return !p.running
	}, 2*time.Second, 5*time.Millisecond, "planner run never finished")
}

func TestPlanner_SuccessfulRunPublishes(t *testing.T) {
	portfolio := &stubPortfolio{
		snapshot: domain.Snapshot{
			Positions: []domain.Position{
				{Symbol: "AAPL", Quantity: 45, CurrentPrice: 10}, // 450 of 1000, target 0.30
				{Symbol: "SAP", Quantity: 55, CurrentPrice: 10},
			},
			CashEUR: 500,
		},
	}
	universe := &stubUniverse{securities: map[string]domain.Security{
		"AAPL": {Symbol: "AAPL", CountryGroups: []string{"US"}, LotSize: 1, PriorityMultiplier: 1},
		"SAP":  {Symbol: "SAP", CountryGroups: []string{"EU"}, LotSize: 1, PriorityMultiplier: 1},
	}}

	fixture, cleanup := newTestPlanner(t, portfolio, universe, &stubPerformance{})
	defer cleanup()
	seedTarget(t, fixture.allocRepo, domain.GroupTypeCountry, "US", 0.30)
	seedTarget(t, fixture.allocRepo, domain.GroupTypeCountry, "EU", 0.70)

	sub := fixture.broadcast.Subscribe()
	defer sub.Close()

	started := fixture.planner.TriggerRun(context.Background())
	assert.True(t, started)

	waitForState(t, fixture.planner, StatePublished)
	waitForRunDone(t, fixture.planner)

	status := fixture.planner.Status()
	require.NotNil(t, status)
	assert.True(t, status.Success)
	assert.NotEmpty(t, status.RunID)
	assert.True(t, status.HasSequences)
	assert.NotEmpty(t, fixture.planner.Sequences())

	select {
	case event := <-sub.Events():
		assert.Equal(t, events.PlanningStatusUpdated, event.Type)
		assert.Equal(t, true, event.Data["success"])
	case <-time.After(time.Second):
		t.Fatal("expected a status event")
	}
}

func TestPlanner_NoOpportunitiesPublishesEmpty(t *testing.T) {
	// Perfectly balanced portfolio: nothing to do, run still publishes
	portfolio := &stubPortfolio{
		snapshot: domain.Snapshot{
			Positions: []domain.Position{
				{Symbol: "AAPL", Quantity: 50, CurrentPrice: 10},
				{Symbol: "SAP", Quantity: 50, CurrentPrice: 10},
			},
		},
	}
	universe := &stubUniverse{securities: map[string]domain.Security{
		"AAPL": {Symbol: "AAPL", CountryGroups: []string{"US"}},
		"SAP":  {Symbol: "SAP", CountryGroups: []string{"EU"}},
	}}

	fixture, cleanup := newTestPlanner(t, portfolio, universe, &stubPerformance{})
	defer cleanup()
	seedTarget(t, fixture.allocRepo, domain.GroupTypeCountry, "US", 0.50)
	seedTarget(t, fixture.allocRepo, domain.GroupTypeCountry, "EU", 0.50)

	fixture.planner.TriggerRun(context.Background())
	waitForState(t, fixture.planner, StatePublished)
	waitForRunDone(t, fixture.planner)

	status := fixture.planner.Status()
	require.NotNil(t, status)
	assert.True(t, status.Success)
	assert.False(t, status.HasSequences)
	assert.Zero(t, status.TotalSequences)
	assert.Empty(t, fixture.planner.Sequences())
}

func TestPlanner_CollaboratorFailureRecordsError(t *testing.T) {
	portfolio := &stubPortfolio{err: errors.New("broker unreachable")}
	fixture, cleanup := newTestPlanner(t, portfolio, &stubUniverse{}, &stubPerformance{})
	defer cleanup()

	fixture.planner.TriggerRun(context.Background())
	waitForRunDone(t, fixture.planner)

	assert.Equal(t, StateIdle, fixture.planner.State())
	status := fixture.planner.Status()
	require.NotNil(t, status)
	assert.False(t, status.Success)
	assert.Contains(t, status.Error, "broker unreachable")
}

func TestPlanner_FailurePreservesLastSequences(t *testing.T) {
	portfolio := &stubPortfolio{
		snapshot: domain.Snapshot{
			Positions: []domain.Position{
				{Symbol: "AAPL", Quantity: 80, CurrentPrice: 10},
				{Symbol: "SAP", Quantity: 20, CurrentPrice: 10},
			},
			CashEUR: 1000,
		},
	}
	universe := &stubUniverse{securities: map[string]domain.Security{
		"AAPL": {Symbol: "AAPL", CountryGroups: []string{"US"}, LotSize: 1, PriorityMultiplier: 1},
		"SAP":  {Symbol: "SAP", CountryGroups: []string{"EU"}, LotSize: 1, PriorityMultiplier: 1},
	}}

	fixture, cleanup := newTestPlanner(t, portfolio, universe, &stubPerformance{})
	defer cleanup()
	seedTarget(t, fixture.allocRepo, domain.GroupTypeCountry, "US", 0.50)
	seedTarget(t, fixture.allocRepo, domain.GroupTypeCountry, "EU", 0.50)

	fixture.planner.TriggerRun(context.Background())
	waitForState(t, fixture.planner, StatePublished)
	waitForRunDone(t, fixture.planner)
	published := fixture.planner.Sequences()
	require.NotEmpty(t, published)

	// Next run fails mid-collect: sequences must remain available
	portfolio.mu.Lock()
	portfolio.err = errors.New("broker down")
	portfolio.mu.Unlock()

	fixture.planner.TriggerRun(context.Background())
	waitForRunDone(t, fixture.planner)

	assert.Equal(t, StateIdle, fixture.planner.State())
	assert.Equal(t, len(published), len(fixture.planner.Sequences()))
	status := fixture.planner.Status()
	require.NotNil(t, status)
	assert.False(t, status.Success)
}

func TestPlanner_TriggersCoalesce(t *testing.T) {
	gate := make(chan struct{})
	portfolio := &stubPortfolio{
		gate: gate,
		snapshot: domain.Snapshot{
			Positions: []domain.Position{{Symbol: "AAPL", Quantity: 10, CurrentPrice: 10}},
		},
	}
	universe := &stubUniverse{securities: map[string]domain.Security{
		"AAPL": {Symbol: "AAPL", CountryGroups: []string{"US"}},
	}}

	fixture, cleanup := newTestPlanner(t, portfolio, universe, &stubPerformance{})
	defer cleanup()

	assert.True(t, fixture.planner.TriggerRun(context.Background()))

	// Three triggers while the first run blocks collapse into one re-run
	assert.False(t, fixture.planner.TriggerRun(context.Background()))
	assert.False(t, fixture.planner.TriggerRun(context.Background()))
	assert.False(t, fixture.planner.TriggerRun(context.Background()))

	close(gate)
	waitForRunDone(t, fixture.planner)

	assert.Equal(t, 2, portfolio.callCount())
}

func TestPlanner_CooldownTransitionPersisted(t *testing.T) {
	configDB, cleanupConfig := helmtesting.NewTestDB(t, "config")
	defer cleanupConfig()
	log := zerolog.Nop()
	store := cooldown.NewStore(configDB.Conn(), log)

	portfolio := &stubPortfolio{
		snapshot: domain.Snapshot{
			Positions: []domain.Position{{Symbol: "AAPL", Quantity: 10, CurrentPrice: 10}},
		},
	}
	universe := &stubUniverse{securities: map[string]domain.Security{
		"AAPL": {Symbol: "AAPL", CountryGroups: []string{"US"}, Bucket: "growth"},
	}}
	performance := &stubPerformance{performances: []domain.BucketPerformance{
		{BucketID: "growth", StartingValue: 1000, CurrentValue: 1300}, // +30%, above trigger
		{BucketID: "value", StartingValue: 1000, CurrentValue: 1050},  // +5%, below
	}}

	cfg := testPlanningConfig()
	p := New(cfg, Deps{
		Portfolio:     portfolio,
		Universe:      universe,
		Performance:   performance,
		AllocRepo:     allocation.NewRepository(configDB.Conn(), log),
		CooldownCalc:  cooldown.NewCalculator(log),
		CooldownStore: store,
		Detector:      opportunities.New(cfg.MinDeviation, log),
		Generator:     sequences.NewGenerator(log),
		Pipeline:      filters.NewPipeline(log),
	}, log)

	p.TriggerRun(context.Background())
	waitForRunDone(t, p)

	start, err := store.GetStart("growth")
	require.NoError(t, err)
	assert.NotNil(t, start)

	start, err = store.GetStart("value")
	require.NoError(t, err)
	assert.Nil(t, start)
}

func TestPlanner_LoadsPersistedStatusOnStartup(t *testing.T) {
	cacheDB, cleanup := helmtesting.NewTestDB(t, "cache")
	defer cleanup()
	log := zerolog.Nop()
	repo := NewStatusRepository(cacheDB.Conn(), log)

	require.NoError(t, repo.Save(domain.PlannerStatus{
		RunID:          "previous-run",
		TotalSequences: 2,
		HasSequences:   true,
		Success:        true,
	}))

	p := New(testPlanningConfig(), Deps{StatusRepo: repo}, log)

	status := p.Status()
	require.NotNil(t, status)
	assert.Equal(t, "previous-run", status.RunID)
	assert.Equal(t, 2, status.TotalSequences)
}

func TestPlanner_RunSurvivesCallerCancellation(t *testing.T) {
	gate := make(chan struct{})
	portfolio := &stubPortfolio{gate: gate, snapshot: domain.Snapshot{CashEUR: 100}}
	fixture, cleanup := newTestPlanner(t, portfolio, &stubUniverse{}, &stubPerformance{})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, fixture.planner.TriggerRun(ctx))
	cancel() // the caller goes away mid-run

	close(gate)
	waitForRunDone(t, fixture.planner)

	status := fixture.planner.Status()
	require.NotNil(t, status)
	assert.True(t, status.Success, "run inherited the caller's context: %s", status.Error)
}

func TestPlanner_TriggerRejectedOnCanceledContext(t *testing.T) {
	fixture, cleanup := newTestPlanner(t, &stubPortfolio{}, &stubUniverse{}, &stubPerformance{})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, fixture.planner.TriggerRun(ctx))
	assert.Equal(t, StateIdle, fixture.planner.State())
}
