package scheduler

import (
	"context"

	"github.com/rs/zerolog"
)

// RunTrigger starts a planning run. Returns false when the request
// coalesced into an already-running cycle.
type RunTrigger interface {
	TriggerRun(ctx context.Context) bool
}

// PlanningJob triggers the planner on its cron schedule.
type PlanningJob struct {
	planner RunTrigger
	log     zerolog.Logger
}

// NewPlanningJob creates the periodic planning job.
func NewPlanningJob(planner RunTrigger, log zerolog.Logger) *PlanningJob {
	return &PlanningJob{
		planner: planner,
		log:     log.With().Str("job", "planning").Logger(),
	}
}

// Name returns the job name.
func (j *PlanningJob) Name() string {
	return "planning"
}

// Run triggers a planning cycle. Coalescing is not an error: the
// in-flight run will be followed by a fresh one.
func (j *PlanningJob) Run() error {
	if !j.planner.TriggerRun(context.Background()) {
		j.log.Debug().Msg("Planning run already in flight, tick coalesced")
	}
	return nil
}
