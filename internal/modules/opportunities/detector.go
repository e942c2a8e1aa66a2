// Package opportunities detects allocation deviations worth acting on.
// Opportunities are transient: produced fresh on every planning run and
// never persisted.
package opportunities

import (
	"math"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/allocation"
	"github.com/rs/zerolog"
)

// DefaultMinDeviation is the smallest absolute deviation that registers
// as an opportunity.
const DefaultMinDeviation = 0.05

// Detector scans group allocations for deviations beyond the configured
// threshold.
type Detector struct {
	minDeviation float64
	log          zerolog.Logger
}

// New creates a detector. A non-positive minDeviation falls back to the
// default threshold.
func New(minDeviation float64, log zerolog.Logger) *Detector {
	if minDeviation <= 0 {
		minDeviation = DefaultMinDeviation
	}
	return &Detector{
		minDeviation: minDeviation,
		log:          log.With().Str("component", "opportunity_detector").Logger(),
	}
}

// Detect compares current group weights against targets on both group
// axes and returns the deviations at or beyond the threshold, ordered by
// absolute deviation descending with (group_type, group_name) as the
// tiebreaker so equal deviations always come out in the same order.
//
// An empty or worthless portfolio yields no opportunities: there is not
// enough data to rebalance, and that is not an error.
func (d *Detector) Detect(
	snapshot domain.Snapshot,
	securities map[string]domain.Security,
	countryTargets map[string]float64,
	industryTargets map[string]float64,
) []domain.Opportunity {
	if snapshot.TotalValue() <= 0 {
		d.log.Debug().Msg("Portfolio has no value, skipping opportunity scan")
		return nil
	}

	var opportunities []domain.Opportunity

	countryAllocs := allocation.CalculateGroupAllocations(snapshot, securities, domain.GroupTypeCountry, countryTargets)
	industryAllocs := allocation.CalculateGroupAllocations(snapshot, securities, domain.GroupTypeIndustry, industryTargets)

	opportunities = append(opportunities, d.scan(domain.GroupTypeCountry, countryAllocs, securities)...)
	opportunities = append(opportunities, d.scan(domain.GroupTypeIndustry, industryAllocs, securities)...)

	sort.Slice(opportunities, func(i, j int) bool {
		di := math.Abs(opportunities[i].Deviation)
		dj := math.Abs(opportunities[j].Deviation)
		if di != dj {
			return di > dj
		}
		if opportunities[i].GroupType != opportunities[j].GroupType {
			return opportunities[i].GroupType < opportunities[j].GroupType
		}
		return opportunities[i].GroupName < opportunities[j].GroupName
	})

	d.log.Debug().
		Int("count", len(opportunities)).
		Float64("min_deviation", d.minDeviation).
		Msg("Opportunity scan complete")

	return opportunities
}

func (d *Detector) scan(
	groupType string,
	allocs []allocation.GroupAllocation,
	securities map[string]domain.Security,
) []domain.Opportunity {
	var result []domain.Opportunity

	for _, alloc := range allocs {
		// A group with no configured target is not actionable. This covers
		// the OTHER remainder. An explicit target of zero stays in: it
		// means exit the group, so holdings there are overweight.
		if !alloc.HasTarget {
			continue
		}

		deviation := alloc.CurrentPct - alloc.TargetPct
		if math.Abs(deviation) < d.minDeviation {
			continue
		}

		direction := domain.DirectionOverweight
		if deviation < 0 {
			direction = domain.DirectionUnderweight
		}

		result = append(result, domain.Opportunity{
			GroupType:     groupType,
			GroupName:     alloc.Name,
			Symbols:       groupMembers(groupType, alloc.Name, securities),
			CurrentWeight: alloc.CurrentPct,
			TargetWeight:  alloc.TargetPct,
			Deviation:     deviation,
			Direction:     direction,
		})
	}

	return result
}

// groupMembers returns the universe symbols belonging to the group,
// sorted for deterministic output.
func groupMembers(groupType, groupName string, securities map[string]domain.Security) []string {
	var symbols []string
	for symbol, sec := range securities {
		for _, g := range sec.Groups(groupType) {
			if g == groupName {
				symbols = append(symbols, symbol)
				break
			}
		}
	}
	sort.Strings(symbols)
	return symbols
}
