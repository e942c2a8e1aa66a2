package allocation

import (
	"math"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
)

// GroupAllocation represents the current and target allocation for a
// single group alongside its deviation. HasTarget distinguishes an
// explicit target of zero from a group that was never configured.
type GroupAllocation struct {
	Name         string  `json:"name"`
	TargetPct    float64 `json:"target_pct"`
	HasTarget    bool    `json:"has_target"`
	CurrentPct   float64 `json:"current_pct"`
	CurrentValue float64 `json:"current_value"`
	Deviation    float64 `json:"deviation"`
}

// CalculateGroupAllocations aggregates position values by group for the
// given group type and joins them against the configured targets.
// Positions whose security belongs to multiple groups have their value
// split equally among those groups; unassigned positions count as "OTHER".
func CalculateGroupAllocations(
	snapshot domain.Snapshot,
	securities map[string]domain.Security,
	groupType string,
	targets map[string]float64,
) []GroupAllocation {
	groupValues := aggregateByGroup(snapshot, securities, groupType)
	return buildGroupAllocations(groupValues, targets, snapshot.TotalValue())
}

// aggregateByGroup sums position values by group. When a security belongs
// to multiple groups its value is split equally among them.
func aggregateByGroup(
	snapshot domain.Snapshot,
	securities map[string]domain.Security,
	groupType string,
) map[string]float64 {
	groupValues := make(map[string]float64)

	for _, pos := range snapshot.Positions {
		sec, ok := securities[pos.Symbol]
		var groups []string
		if ok {
			groups = sec.Groups(groupType)
		}
		if len(groups) == 0 {
			groupValues["OTHER"] += pos.Value()
			continue
		}

		splitValue := pos.Value() / float64(len(groups))
		for _, group := range groups {
			groupValues[group] += splitValue
		}
	}

	return groupValues
}

// buildGroupAllocations joins group values against targets. Groups that
// appear only in targets (no holdings) are included with zero current
// weight so underweight detection still sees them.
func buildGroupAllocations(
	groupValues map[string]float64,
	groupTargets map[string]float64,
	totalValue float64,
) []GroupAllocation {
	groupNames := make(map[string]bool)
	for name := range groupValues {
		groupNames[name] = true
	}
	for name := range groupTargets {
		groupNames[name] = true
	}

	var allocations []GroupAllocation
	for groupName := range groupNames {
		currentValue := groupValues[groupName]
		targetPct, hasTarget := groupTargets[groupName]

		var currentPct float64
		if totalValue > 0 {
			currentPct = currentValue / totalValue
		}

		allocations = append(allocations, GroupAllocation{
			Name:         groupName,
			TargetPct:    targetPct,
			HasTarget:    hasTarget,
			CurrentPct:   round(currentPct, 4),
			CurrentValue: round(currentValue, 2),
			Deviation:    round(currentPct-targetPct, 4),
		})
	}

	// Sort by name for consistent output
	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].Name < allocations[j].Name
	})

	return allocations
}

// round rounds a float64 to n decimal places
func round(val float64, decimals int) float64 {
	multiplier := math.Pow(10, float64(decimals))
	return math.Round(val*multiplier) / multiplier
}
