// Package filters post-processes generated sequences: cooldown-adjusted
// aggression, allocation budget caps, lot-size rounding and per-symbol
// de-duplication.
package filters

import (
	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/cooldown"
	"github.com/rs/zerolog"
)

// Stage transforms a batch of sequences. Stages may shrink sequences or
// drop them entirely; they never abort the run because of a single step.
type Stage interface {
	Name() string
	Filter(sequences []domain.Sequence, ctx *Context) ([]domain.Sequence, error)
}

// Context carries the read-only planning state stages evaluate against.
type Context struct {
	Snapshot        domain.Snapshot
	Securities      map[string]domain.Security
	TotalValue      float64
	CountryTargets  map[string]float64
	IndustryTargets map[string]float64

	// Cooldown status per bucket, computed once at the start of the run
	Cooldowns map[string]cooldown.Status

	GroupTolerance   float64 // allowed overshoot past target_pct
	MinTradeValueEUR float64 // steps below this are not worth executing
}

// BaseStage provides the shared logger setup for stages.
type BaseStage struct {
	log zerolog.Logger
}

// NewBaseStage creates the embedded base for a named stage.
func NewBaseStage(log zerolog.Logger, name string) *BaseStage {
	return &BaseStage{log: log.With().Str("filter", name).Logger()}
}

// rebuildSequence reindexes surviving steps and remaps depends_on links.
// oldIndex maps each kept step to its original index. A dependency whose
// target was dropped is cleared rather than rewired: the funding sell is
// gone, so the constraint no longer applies.
func rebuildSequence(seq domain.Sequence, kept []domain.ActionStep, oldIndex []int) domain.Sequence {
	remap := make(map[int]int, len(kept))
	for newIdx, oldIdx := range oldIndex {
		remap[oldIdx] = newIdx
	}

	for i := range kept {
		kept[i].OrderIndex = i
		if kept[i].DependsOn != nil {
			if newIdx, ok := remap[*kept[i].DependsOn]; ok {
				dep := newIdx
				kept[i].DependsOn = &dep
			} else {
				kept[i].DependsOn = nil
			}
		}
	}

	seq.Steps = kept
	seq.ValueDelta = 0
	seq.RiskContribution = 0
	for _, step := range kept {
		switch step.Side {
		case domain.SideBuy:
			seq.ValueDelta += step.Value()
			if step.WeightDelta > 0 {
				seq.RiskContribution += step.WeightDelta
			}
		case domain.SideSell:
			seq.ValueDelta -= step.Value()
		}
	}

	return seq
}
