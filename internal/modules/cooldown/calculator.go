// Package cooldown implements the win-cooldown tracker: a per-bucket
// throttle that reduces planner aggression after outsized recent gains.
package cooldown

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when Options fields are zero.
const (
	DefaultCooldownDays        = 30
	DefaultTriggerThreshold    = 0.20
	DefaultAggressionReduction = 0.25
)

// Status represents cooldown status for a bucket. It is derived state:
// recomputed on every evaluation from a stored start timestamp, never
// written back except via the persisted cooldown_start.
type Status struct {
	BucketID            string   `json:"bucket_id"`
	InCooldown          bool     `json:"in_cooldown"`
	CooldownStart       *string  `json:"cooldown_start"` // RFC3339 timestamp
	CooldownEnd         *string  `json:"cooldown_end"`   // RFC3339 timestamp
	TriggerGain         *float64 `json:"trigger_gain"`   // Gain that triggered cooldown
	DaysRemaining       int      `json:"days_remaining"`
	AggressionReduction float64  `json:"aggression_reduction"` // Multiplier (e.g. 0.75 for 25% reduction)
}

// Options configure a single evaluation. Validation happens at the
// configuration boundary; the calculator assumes well-formed values.
type Options struct {
	CooldownDays        int
	TriggerThreshold    float64
	AggressionReduction float64
	Now                 time.Time // zero = time.Now()
}

func (o Options) withDefaults() Options {
	if o.CooldownDays == 0 {
		o.CooldownDays = DefaultCooldownDays
	}
	if o.TriggerThreshold == 0 {
		o.TriggerThreshold = DefaultTriggerThreshold
	}
	if o.AggressionReduction == 0 {
		o.AggressionReduction = DefaultAggressionReduction
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

// Calculator prevents overconfidence after hot streaks.
//
// After exceptional gains (>20% over the lookback window by default),
// temporarily reduce aggression to avoid overleveraging during euphoric
// periods and giving back gains on a reversal.
type Calculator struct {
	log zerolog.Logger
}

// NewCalculator creates a new win cooldown calculator
func NewCalculator(log zerolog.Logger) *Calculator {
	return &Calculator{
		log: log.With().Str("component", "win_cooldown").Logger(),
	}
}

// Evaluate checks whether a bucket should enter, remains in, or has left
// win cooldown. currentStart is the persisted cooldown start, nil when no
// cooldown is recorded.
//
// Note: once a cooldown is active, only the start timestamp is persisted -
// the original trigger gain is not retained, so TriggerGain is nil on
// mid-cooldown evaluations. This is deliberate contract, not an omission.
func (c *Calculator) Evaluate(bucketID string, recentReturn float64, currentStart *string, opts Options) Status {
	opts = opts.withDefaults()
	now := opts.Now

	if currentStart != nil {
		startDate, err := time.Parse(time.RFC3339, *currentStart)
		if err != nil {
			c.log.Error().
				Str("bucket_id", bucketID).
				Str("cooldown_start", *currentStart).
				Err(err).
				Msg("Failed to parse cooldown start date")
			return cleared(bucketID)
		}

		endDate := startDate.AddDate(0, 0, opts.CooldownDays)

		if now.Before(endDate) {
			daysRemaining := int(math.Ceil(endDate.Sub(now).Hours() / 24))
			c.log.Info().
				Str("bucket_id", bucketID).
				Int("days_remaining", daysRemaining).
				Msg("In win cooldown")

			endStr := endDate.Format(time.RFC3339)
			return Status{
				BucketID:            bucketID,
				InCooldown:          true,
				CooldownStart:       currentStart,
				CooldownEnd:         &endStr,
				TriggerGain:         nil, // original trigger not retained
				DaysRemaining:       daysRemaining,
				AggressionReduction: 1.0 - opts.AggressionReduction,
			}
		}

		c.log.Info().Str("bucket_id", bucketID).Msg("Win cooldown expired")
		return cleared(bucketID)
	}

	if recentReturn >= opts.TriggerThreshold {
		startStr := now.Format(time.RFC3339)
		endStr := now.AddDate(0, 0, opts.CooldownDays).Format(time.RFC3339)

		c.log.Warn().
			Str("bucket_id", bucketID).
			Float64("recent_return_pct", recentReturn*100).
			Float64("threshold_pct", opts.TriggerThreshold*100).
			Int("cooldown_days", opts.CooldownDays).
			Msg("Entering win cooldown")

		gain := recentReturn
		return Status{
			BucketID:            bucketID,
			InCooldown:          true,
			CooldownStart:       &startStr,
			CooldownEnd:         &endStr,
			TriggerGain:         &gain,
			DaysRemaining:       opts.CooldownDays,
			AggressionReduction: 1.0 - opts.AggressionReduction,
		}
	}

	return cleared(bucketID)
}

func cleared(bucketID string) Status {
	return Status{
		BucketID:            bucketID,
		InCooldown:          false,
		CooldownStart:       nil,
		CooldownEnd:         nil,
		TriggerGain:         nil,
		DaysRemaining:       0,
		AggressionReduction: 1.0,
	}
}

// Apply applies the cooldown reduction to an aggression level.
// Identity when the bucket is not in cooldown.
func (c *Calculator) Apply(baseAggression float64, status Status) float64 {
	if !status.InCooldown {
		return baseAggression
	}

	adjusted := baseAggression * status.AggressionReduction

	c.log.Info().
		Str("bucket_id", status.BucketID).
		Float64("base_aggression_pct", baseAggression*100).
		Float64("adjusted_aggression_pct", adjusted*100).
		Msg("Win cooldown applied")

	return adjusted
}

// RecentReturn calculates the return over a period as a decimal
// (0.25 for 25%). Zero when startingValue is non-positive - explicit
// edge-case policy, not an error.
func RecentReturn(currentValue, startingValue float64) float64 {
	if startingValue <= 0 {
		return 0.0
	}
	return (currentValue - startingValue) / startingValue
}

// Description returns a human-readable description of cooldown status.
func Description(status Status) string {
	if !status.InCooldown {
		return "No win cooldown active"
	}

	reductionPct := (1 - status.AggressionReduction) * 100

	if status.TriggerGain != nil {
		return fmt.Sprintf(
			"WIN COOLDOWN ACTIVE: Triggered by %.1f%% gain. Aggression reduced by %.0f%% for %d more days.",
			*status.TriggerGain*100, reductionPct, status.DaysRemaining,
		)
	}
	return fmt.Sprintf(
		"WIN COOLDOWN ACTIVE: Aggression reduced by %.0f%% for %d more days.",
		reductionPct, status.DaysRemaining,
	)
}
