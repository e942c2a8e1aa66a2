package filters

import (
	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// Pipeline runs stages in a fixed order. A step dropped by an earlier
// stage is gone before later stages evaluate; a stage error skips that
// stage and carries the sequences through unchanged rather than failing
// the run.
type Pipeline struct {
	stages []Stage
	log    zerolog.Logger
}

// NewPipeline creates the standard four-stage pipeline: cooldown gate,
// budget gate, lot-size gate, de-duplication.
func NewPipeline(log zerolog.Logger) *Pipeline {
	return &Pipeline{
		stages: []Stage{
			NewCooldownGate(log),
			NewBudgetGate(log),
			NewLotSizeGate(log),
			NewDedupeStage(log),
		},
		log: log.With().Str("component", "filter_pipeline").Logger(),
	}
}

// NewCustomPipeline creates a pipeline with explicit stages, used by tests
// to exercise stages in isolation.
func NewCustomPipeline(log zerolog.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{
		stages: stages,
		log:    log.With().Str("component", "filter_pipeline").Logger(),
	}
}

// Run passes the sequences through every stage in order.
func (p *Pipeline) Run(sequences []domain.Sequence, ctx *Context) []domain.Sequence {
	current := sequences

	for _, stage := range p.stages {
		filtered, err := stage.Filter(current, ctx)
		if err != nil {
			p.log.Warn().
				Err(err).
				Str("stage", stage.Name()).
				Msg("Filter stage failed, passing sequences through unchanged")
			continue
		}

		p.log.Debug().
			Str("stage", stage.Name()).
			Int("input", len(current)).
			Int("output", len(filtered)).
			Msg("Filter stage complete")

		current = filtered
	}

	return current
}
