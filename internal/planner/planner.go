// Package planner orchestrates a planning run: collect, detect,
// generate, filter, publish. At most one run is in flight; extra
// triggers coalesce into a single pending re-run.
package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/config"
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/events"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/aristath/helmsman/internal/modules/cooldown"
	"github.com/aristath/helmsman/internal/modules/opportunities"
	"github.com/aristath/helmsman/internal/modules/sequences"
	"github.com/aristath/helmsman/internal/modules/sequences/filters"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State of the planner's run machine.
type State string

const (
	StateIdle       State = "IDLE"
	StateCollecting State = "COLLECTING"
	StateDetecting  State = "DETECTING"
	StateGenerating State = "GENERATING"
	StateFiltering  State = "FILTERING"
	StatePublished  State = "PUBLISHED"
)

// defaultCollectTimeout bounds the collaborator fetch phase. A timeout
// is a run failure, never a hang.
const defaultCollectTimeout = 30 * time.Second

// PortfolioSource supplies the current portfolio snapshot.
type PortfolioSource interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

// UniverseSource supplies security metadata for the tradeable universe.
type UniverseSource interface {
	Securities(ctx context.Context) (map[string]domain.Security, error)
}

// PerformanceSource supplies per-bucket performance over the cooldown
// lookback window.
type PerformanceSource interface {
	BucketPerformance(ctx context.Context) ([]domain.BucketPerformance, error)
}

// Planner coordinates one planning run end to end.
type Planner struct {
	cfg config.PlanningConfig

	portfolio   PortfolioSource
	universe    UniverseSource
	performance PerformanceSource

	allocRepo     *allocation.Repository
	cooldownCalc  *cooldown.Calculator
	cooldownStore *cooldown.Store
	detector      *opportunities.Detector
	generator     *sequences.Generator
	pipeline      *filters.Pipeline

	statusRepo    *StatusRepository
	broadcaster   *events.Broadcaster
	invalidations *events.InvalidationBroadcaster

	mu        sync.Mutex
	state     State
	running   bool
	pending   bool
	status    *domain.PlannerStatus
	sequences []domain.Sequence

	// Runs execute under the planner's own lifetime context, never the
	// caller's. An HTTP trigger returns long before the run finishes and
	// net/http cancels the request context as soon as the response is
	// written.
	runCtx  context.Context
	stopRun context.CancelFunc

	collectTimeout time.Duration
	log            zerolog.Logger
}

// Deps bundles the planner's collaborators.
type Deps struct {
	Portfolio   PortfolioSource
	Universe    UniverseSource
	Performance PerformanceSource

	AllocRepo     *allocation.Repository
	CooldownCalc  *cooldown.Calculator
	CooldownStore *cooldown.Store
	Detector      *opportunities.Detector
	Generator     *sequences.Generator
	Pipeline      *filters.Pipeline

	StatusRepo    *StatusRepository
	Broadcaster   *events.Broadcaster
	Invalidations *events.InvalidationBroadcaster
}

// New creates a planner. The last published status is loaded from the
// repository so a restart serves stale-but-available state immediately.
func New(cfg config.PlanningConfig, deps Deps, log zerolog.Logger) *Planner {
	runCtx, stopRun := context.WithCancel(context.Background())
	p := &Planner{
		cfg:            cfg,
		portfolio:      deps.Portfolio,
		universe:       deps.Universe,
		performance:    deps.Performance,
		allocRepo:      deps.AllocRepo,
		cooldownCalc:   deps.CooldownCalc,
		cooldownStore:  deps.CooldownStore,
		detector:       deps.Detector,
		generator:      deps.Generator,
		pipeline:       deps.Pipeline,
		statusRepo:     deps.StatusRepo,
		broadcaster:    deps.Broadcaster,
		invalidations:  deps.Invalidations,
		state:          StateIdle,
		runCtx:         runCtx,
		stopRun:        stopRun,
		collectTimeout: defaultCollectTimeout,
		log:            log.With().Str("component", "planner").Logger(),
	}

	if p.statusRepo != nil {
		if status, err := p.statusRepo.Load(); err != nil {
			p.log.Warn().Err(err).Msg("Failed to load previous planner status")
		} else if status != nil {
			p.status = status
		}
	}

	return p
}

// State returns the current run-machine state.
func (p *Planner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Status returns the last run's status, or nil before the first run.
func (p *Planner) Status() *domain.PlannerStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == nil {
		return nil
	}
	status := *p.status
	return &status
}

// Sequences returns the last successful run's output.
func (p *Planner) Sequences() []domain.Sequence {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]domain.Sequence, len(p.sequences))
	copy(result, p.sequences)
	return result
}

// TriggerRun starts a planning run unless one is already in flight, in
// which case the request coalesces into at most one pending re-run.
// Returns true when a run was started, false when coalesced. The
// caller's context gates only the trigger itself; the run outlives the
// caller and executes under the planner's lifetime context.
func (p *Planner) TriggerRun(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	p.mu.Lock()
	if p.running {
		p.pending = true
		p.mu.Unlock()
		p.log.Debug().Msg("Run already in flight, request coalesced")
		return false
	}
	p.running = true
	p.mu.Unlock()

	go p.runLoop(p.runCtx)
	return true
}

// Stop cancels the lifetime context so an in-flight run winds down and
// no pending re-run starts.
func (p *Planner) Stop() {
	p.stopRun()
}

// runLoop executes the current run and any re-run that coalesced while
// it was in flight.
func (p *Planner) runLoop(ctx context.Context) {
	for {
		p.runOnce(ctx)

		p.mu.Lock()
		if !p.pending || ctx.Err() != nil {
			p.running = false
			p.pending = false
			p.mu.Unlock()
			return
		}
		p.pending = false
		p.mu.Unlock()
	}
}

func (p *Planner) runOnce(ctx context.Context) {
	runID := uuid.NewString()
	started := time.Now()
	log := p.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("Planning run started")

	result, err := p.execute(ctx, log)
	if err != nil {
		// Collaborator or internal failure: back to IDLE, keep the last
		// published status and sequences intact
		p.setState(StateIdle)
		p.mu.Lock()
		p.status = &domain.PlannerStatus{
			RunID:       runID,
			GeneratedAt: time.Now().UTC(),
			Summary:     "planning run failed",
			Success:     false,
			Error:       err.Error(),
		}
		p.mu.Unlock()
		log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("Planning run failed")
		return
	}

	status := domain.PlannerStatus{
		RunID:          runID,
		HasSequences:   len(result) > 0,
		TotalSequences: len(result),
		GeneratedAt:    time.Now().UTC(),
		Summary:        fmt.Sprintf("%d sequences generated", len(result)),
		Success:        true,
	}

	p.mu.Lock()
	p.sequences = result
	p.status = &status
	p.mu.Unlock()

	if p.statusRepo != nil {
		if err := p.statusRepo.Save(status); err != nil {
			log.Warn().Err(err).Msg("Failed to persist planner status")
		}
	}

	if p.broadcaster != nil {
		p.broadcaster.Emit(events.PlanningStatusUpdated, "planner", map[string]interface{}{
			"run_id":          status.RunID,
			"has_sequences":   status.HasSequences,
			"total_sequences": status.TotalSequences,
			"generated_at":    status.GeneratedAt.Format(time.RFC3339),
			"summary":         status.Summary,
			"success":         true,
		})
	}
	if p.invalidations != nil {
		p.invalidations.Invalidate()
	}

	p.setState(StatePublished)
	log.Info().
		Int("sequences", len(result)).
		Dur("elapsed", time.Since(started)).
		Msg("Planning run published")
}

// execute walks the run stages and returns the filtered sequences.
func (p *Planner) execute(ctx context.Context, log zerolog.Logger) ([]domain.Sequence, error) {
	// COLLECTING: pull state from collaborators under a timeout
	p.setState(StateCollecting)
	collectCtx, cancel := context.WithTimeout(ctx, p.collectTimeout)
	defer cancel()

	snapshot, err := p.portfolio.Snapshot(collectCtx)
	if err != nil {
		return nil, fmt.Errorf("portfolio snapshot: %w", err)
	}

	securities, err := p.universe.Securities(collectCtx)
	if err != nil {
		return nil, fmt.Errorf("universe securities: %w", err)
	}

	countryTargets, err := p.allocRepo.Targets(domain.GroupTypeCountry)
	if err != nil {
		return nil, fmt.Errorf("country targets: %w", err)
	}
	industryTargets, err := p.allocRepo.Targets(domain.GroupTypeIndustry)
	if err != nil {
		return nil, fmt.Errorf("industry targets: %w", err)
	}

	cooldowns, err := p.evaluateCooldowns(collectCtx, log)
	if err != nil {
		return nil, fmt.Errorf("cooldown evaluation: %w", err)
	}

	// DETECTING
	p.setState(StateDetecting)
	opps := p.detector.Detect(snapshot, securities, countryTargets, industryTargets)
	if len(opps) == 0 {
		log.Info().Msg("No opportunities detected")
		return nil, nil
	}

	// GENERATING
	p.setState(StateGenerating)
	genCfg := sequences.DefaultConfig()
	genCfg.AvailableCash = snapshot.CashEUR
	generated := p.generator.Generate(opps, snapshot, securities, genCfg)

	// FILTERING
	p.setState(StateFiltering)
	filterCtx := &filters.Context{
		Snapshot:         snapshot,
		Securities:       securities,
		TotalValue:       snapshot.TotalValue(),
		CountryTargets:   countryTargets,
		IndustryTargets:  industryTargets,
		Cooldowns:        cooldowns,
		GroupTolerance:   p.cfg.GroupTolerance,
		MinTradeValueEUR: p.cfg.MinTradeValueEUR,
	}
	filtered := p.pipeline.Run(generated, filterCtx)

	return filtered, nil
}

// evaluateCooldowns recomputes the cooldown status of every bucket and
// persists transitions: a fresh trigger stores its start timestamp, an
// expired cooldown is cleared.
func (p *Planner) evaluateCooldowns(ctx context.Context, log zerolog.Logger) (map[string]cooldown.Status, error) {
	statuses := make(map[string]cooldown.Status)
	if p.performance == nil {
		return statuses, nil
	}

	performances, err := p.performance.BucketPerformance(ctx)
	if err != nil {
		return nil, err
	}

	opts := cooldown.Options{
		CooldownDays:        p.cfg.CooldownDays,
		TriggerThreshold:    p.cfg.TriggerThreshold,
		AggressionReduction: p.cfg.AggressionReduction,
	}

	for _, perf := range performances {
		recentReturn := cooldown.RecentReturn(perf.CurrentValue, perf.StartingValue)

		var currentStart *string
		if p.cooldownStore != nil {
			currentStart, err = p.cooldownStore.GetStart(perf.BucketID)
			if err != nil {
				return nil, err
			}
		}

		status := p.cooldownCalc.Evaluate(perf.BucketID, recentReturn, currentStart, opts)
		statuses[perf.BucketID] = status

		if p.cooldownStore == nil {
			continue
		}
		switch {
		case status.InCooldown && currentStart == nil && status.CooldownStart != nil:
			// Fresh trigger
			if err := p.cooldownStore.SetStart(perf.BucketID, *status.CooldownStart); err != nil {
				return nil, err
			}
			log.Info().
				Str("bucket", perf.BucketID).
				Float64("recent_return", recentReturn).
				Msg("Bucket entered win cooldown")
		case !status.InCooldown && currentStart != nil:
			// Expired
			if err := p.cooldownStore.Clear(perf.BucketID); err != nil {
				return nil, err
			}
			log.Info().Str("bucket", perf.BucketID).Msg("Bucket cooldown cleared")
		}
	}

	return statuses, nil
}

func (p *Planner) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}
