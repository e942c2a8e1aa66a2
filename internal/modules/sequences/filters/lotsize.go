package filters

import (
	"math"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// LotSizeGate rounds step quantities down to each security's minimum
// tradeable lot. Steps that round to zero are dropped.
type LotSizeGate struct {
	*BaseStage
}

// NewLotSizeGate creates a new lot-size gate stage.
func NewLotSizeGate(log zerolog.Logger) *LotSizeGate {
	return &LotSizeGate{BaseStage: NewBaseStage(log, "lot_size_gate")}
}

// Name returns the stage name.
func (f *LotSizeGate) Name() string {
	return "lot_size_gate"
}

// Filter rounds quantities to whole lots.
func (f *LotSizeGate) Filter(sequences []domain.Sequence, ctx *Context) ([]domain.Sequence, error) {
	var result []domain.Sequence

	for _, seq := range sequences {
		var kept []domain.ActionStep
		var oldIndex []int

		for i, step := range seq.Steps {
			lot := 1
			if sec, ok := ctx.Securities[step.Symbol]; ok && sec.LotSize > 0 {
				lot = sec.LotSize
			}

			rounded := math.Floor(step.Quantity/float64(lot)) * float64(lot)
			if rounded <= 0 {
				f.log.Debug().
					Str("symbol", step.Symbol).
					Float64("quantity", step.Quantity).
					Int("lot_size", lot).
					Msg("Step dropped: rounds to zero lots")
				continue
			}

			if rounded != step.Quantity {
				scale := rounded / step.Quantity
				step.WeightDelta *= scale
				step.Quantity = rounded
			}

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
