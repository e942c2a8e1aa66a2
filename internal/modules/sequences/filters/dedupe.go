package filters

import (
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// DedupeStage collapses multiple steps on the same symbol within one
// sequence into a single net step at the earliest position, preserving
// that position's dependency link. A net of zero removes the symbol
// entirely.
type DedupeStage struct {
	*BaseStage
}

// NewDedupeStage creates a new de-duplication stage.
func NewDedupeStage(log zerolog.Logger) *DedupeStage {
	return &DedupeStage{BaseStage: NewBaseStage(log, "dedupe")}
}

// Name returns the stage name.
func (f *DedupeStage) Name() string {
	return "dedupe"
}

// Filter nets per-symbol quantities. Buys count positive, sells
// negative; the sign of the net decides the surviving side.
func (f *DedupeStage) Filter(sequences []domain.Sequence, ctx *Context) ([]domain.Sequence, error) {
	var result []domain.Sequence

	for _, seq := range sequences {
		firstIdx := make(map[string]int)
		net := make(map[string]float64)
		weight := make(map[string]float64)

		for i, step := range seq.Steps {
			if _, seen := firstIdx[step.Symbol]; !seen {
				firstIdx[step.Symbol] = i
			}
			qty := step.Quantity
			wd := step.WeightDelta
			if step.Side == domain.SideSell {
				qty = -qty
			}
			net[step.Symbol] += qty
			weight[step.Symbol] += wd
		}

		var kept []domain.ActionStep
		var oldIndex []int
		collapsed := 0

		for i, step := range seq.Steps {
			if firstIdx[step.Symbol] != i {
				collapsed++
				continue
			}

			netQty := net[step.Symbol]
			if netQty == 0 {
				continue
			}

			side := domain.SideBuy
			if netQty < 0 {
				side = domain.SideSell
				netQty = -netQty
			}

			step.Side = side
			step.Quantity = netQty
			step.WeightDelta = weight[step.Symbol]
			kept = append(kept, step)
			oldIndex = append(oldIndex, i)
		}

		if collapsed > 0 {
			f.log.Debug().
				Str("sequence", seq.Label).
				Int("collapsed", collapsed).
				Msg("Netted duplicate symbol steps")
		}

		if len(kept) == 0 {
			continue
		}
		result = append(result, rebuildSequence(seq, kept, oldIndex))
	}

	return result, nil
}
