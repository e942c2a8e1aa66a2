package filters

import (
	"math"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// BudgetGate enforces allocation target bounds: a buy may not push any
// of its groups past target_pct + tolerance, a sell may not drag any of
// its groups below target_pct - tolerance. Offending steps are clipped
// to the available headroom; steps clipped below the minimum trade value
// are dropped.
type BudgetGate struct {
	*BaseStage
}

// NewBudgetGate creates a new budget gate stage.
func NewBudgetGate(log zerolog.Logger) *BudgetGate {
	return &BudgetGate{BaseStage: NewBaseStage(log, "budget_gate")}
}

// Name returns the stage name.
func (f *BudgetGate) Name() string {
	return "budget_gate"
}

// Filter clips or drops steps that would breach group budgets. Group
// weights are tracked cumulatively within each sequence so later steps
// see the effect of earlier ones.
func (f *BudgetGate) Filter(sequences []domain.Sequence, ctx *Context) ([]domain.Sequence, error) {
	if ctx.TotalValue <= 0 {
		return sequences, nil
	}

	var result []domain.Sequence

	for _, seq := range sequences {
		weights := f.currentGroupValues(ctx)

		var kept []domain.ActionStep
		var oldIndex []int

		for i, step := range seq.Steps {
			sec, ok := ctx.Securities[step.Symbol]
			if !ok {
				// Unknown security, nothing to budget against
				kept = append(kept, step)
				oldIndex = append(oldIndex, i)
				continue
			}

			allowed := f.allowedValue(step, sec, weights, ctx)
			if allowed < step.Value() && allowed < ctx.MinTradeValueEUR {
				f.log.Debug().
					Str("symbol", step.Symbol).
					Str("side", string(step.Side)).
					Float64("requested", step.Value()).
					Float64("allowed", allowed).
					Msg("Step dropped: group budget exhausted")
				continue
			}

			if allowed < step.Value() {
				scale := allowed / step.Value()
				step.Quantity *= scale
				step.WeightDelta *= scale
				f.log.Debug().
					Str("symbol", step.Symbol).
					Float64("scale", scale).
					Msg("Step clipped to group budget")
			}

			f.applyStep(step, sec, weights)
			kept = append(kept, step)
			oldIndex = append(oldIndex, i)
		}

		if len(kept) == 0 {
			continue
		}
		result = append(result, rebuildSequence(seq, kept, oldIndex))
	}

	return result, nil
}

// groupKey separates the two axes in the tracking map.
type groupKey struct {
	groupType string
	name      string
}

// currentGroupValues seeds the tracking map with the portfolio's current
// per-group values, using the same equal-split rule as the allocation
// aggregation.
func (f *BudgetGate) currentGroupValues(ctx *Context) map[groupKey]float64 {
	values := make(map[groupKey]float64)

	for _, pos := range ctx.Snapshot.Positions {
		sec, ok := ctx.Securities[pos.Symbol]
		if !ok {
			continue
		}
		for _, groupType := range []string{domain.GroupTypeCountry, domain.GroupTypeIndustry} {
			groups := sec.Groups(groupType)
			if len(groups) == 0 {
				continue
			}
			split := pos.Value() / float64(len(groups))
			for _, g := range groups {
				values[groupKey{groupType, g}] += split
			}
		}
	}

	return values
}

// allowedValue returns the largest trade value the step may carry
// without breaching any of its groups' budgets. Groups without a target
// impose no bound.
func (f *BudgetGate) allowedValue(step domain.ActionStep, sec domain.Security, values map[groupKey]float64, ctx *Context) float64 {
	allowed := step.Value()

	for _, groupType := range []string{domain.GroupTypeCountry, domain.GroupTypeIndustry} {
		targets := ctx.CountryTargets
		if groupType == domain.GroupTypeIndustry {
			targets = ctx.IndustryTargets
		}

		groups := sec.Groups(groupType)
		if len(groups) == 0 {
			continue
		}
		split := 1.0 / float64(len(groups))

		for _, g := range groups {
			target, hasTarget := targets[g]
			if !hasTarget {
				continue
			}

			current := values[groupKey{groupType, g}]
			switch step.Side {
			case domain.SideBuy:
				ceiling := (target + ctx.GroupTolerance) * ctx.TotalValue
				headroom := (ceiling - current) / split
				allowed = math.Min(allowed, math.Max(0, headroom))
			case domain.SideSell:
				floor := (target - ctx.GroupTolerance) * ctx.TotalValue
				room := (current - floor) / split
				allowed = math.Min(allowed, math.Max(0, room))
			}
		}
	}

	return allowed
}

// applyStep records the step's effect on the tracked group values.
func (f *BudgetGate) applyStep(step domain.ActionStep, sec domain.Security, values map[groupKey]float64) {
	delta := step.Value()
	if step.Side == domain.SideSell {
		delta = -delta
	}

	for _, groupType := range []string{domain.GroupTypeCountry, domain.GroupTypeIndustry} {
		groups := sec.Groups(groupType)
		if len(groups) == 0 {
			continue
		}
		split := delta / float64(len(groups))
		for _, g := range groups {
			values[groupKey{groupType, g}] += split
		}
	}
}
