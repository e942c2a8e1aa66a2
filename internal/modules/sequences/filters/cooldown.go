package filters

import (
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// CooldownGate scales buy-side quantities by the aggression reduction of
// any active cooldown on the step's bucket. Buys shrunk below the
// minimum trade value are dropped; sells are untouched, a cooldown never
// blocks de-risking.
type CooldownGate struct {
	*BaseStage
}

// NewCooldownGate creates a new cooldown gate stage.
func NewCooldownGate(log zerolog.Logger) *CooldownGate {
	return &CooldownGate{BaseStage: NewBaseStage(log, "cooldown_gate")}
}

// Name returns the stage name.
func (f *CooldownGate) Name() string {
	return "cooldown_gate"
}

// Filter applies cooldown aggression scaling to every sequence.
func (f *CooldownGate) Filter(sequences []domain.Sequence, ctx *Context) ([]domain.Sequence, error) {
	var result []domain.Sequence

	for _, seq := range sequences {
		var kept []domain.ActionStep
		var oldIndex []int

		for i, step := range seq.Steps {
			if step.Side == domain.SideBuy {
				status, ok := ctx.Cooldowns[step.Bucket]
				if ok && status.InCooldown {
					step.Quantity *= status.AggressionReduction
					step.WeightDelta *= status.AggressionReduction

					if step.Value() < ctx.MinTradeValueEUR {
						f.log.Debug().
							Str("symbol", step.Symbol).
							Str("bucket", step.Bucket).
							Float64("value", step.Value()).
							Msg("Buy dropped: cooldown reduced it below minimum trade value")
						continue
					}
				}
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
