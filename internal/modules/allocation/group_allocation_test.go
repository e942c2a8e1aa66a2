package allocation

import (
	"testing"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecurities() map[string]domain.Security {
	return map[string]domain.Security{
		"AAPL": {
			Symbol:         "AAPL",
			CountryGroups:  []string{"US"},
			IndustryGroups: []string{"Technology"},
		},
		"SAP": {
			Symbol:         "SAP",
			CountryGroups:  []string{"EU"},
			IndustryGroups: []string{"Technology"},
		},
		// Belongs to two country groups: value splits equally
		"GLOB": {
			Symbol:         "GLOB",
			CountryGroups:  []string{"US", "EU"},
			IndustryGroups: []string{"Industrials"},
		},
		// No groups at all: falls into OTHER
		"MISC": {
			Symbol: "MISC",
		},
	}
}

func TestCalculateGroupAllocations_BasicAggregation(t *testing.T) {
	snapshot := domain.Snapshot{
		Positions: []domain.Position{
			{Symbol: "AAPL", Quantity: 10, CurrentPrice: 70}, // 700
			{Symbol: "SAP", Quantity: 5, CurrentPrice: 60},   // 300
		},
		CashEUR: 200, // excluded from weights
	}
	targets := map[string]float64{"US": 0.40, "EU": 0.40}

	allocs := CalculateGroupAllocations(snapshot, testSecurities(), domain.GroupTypeCountry, targets)
	require.Len(t, allocs, 2)

	// Sorted by name: EU first
	assert.Equal(t, "EU", allocs[0].Name)
	assert.InDelta(t, 0.30, allocs[0].CurrentPct, 1e-9) // 300 / 1000
	assert.InDelta(t, -0.10, allocs[0].Deviation, 1e-9)

	assert.Equal(t, "US", allocs[1].Name)
	assert.InDelta(t, 0.70, allocs[1].CurrentPct, 1e-9) // 700 / 1000
	assert.InDelta(t, 0.30, allocs[1].Deviation, 1e-9)
}

func TestCalculateGroupAllocations_MultiGroupSplit(t *testing.T) {
	snapshot := domain.Snapshot{
		Positions: []domain.Position{
			{Symbol: "GLOB", Quantity: 10, CurrentPrice: 40}, // 400, split 200/200
		},
	}

	allocs := CalculateGroupAllocations(snapshot, testSecurities(), domain.GroupTypeCountry, nil)
	require.Len(t, allocs, 2)

	for _, a := range allocs {
		assert.InDelta(t, 200.0, a.CurrentValue, 1e-9)
		assert.InDelta(t, 0.50, a.CurrentPct, 1e-9)
	}
}

func TestCalculateGroupAllocations_UnassignedGoesToOther(t *testing.T) {
	snapshot := domain.Snapshot{
		Positions: []domain.Position{
			{Symbol: "MISC", Quantity: 1, CurrentPrice: 100},
			{Symbol: "UNKNOWN", Quantity: 1, CurrentPrice: 50}, // not in universe
		},
	}

	allocs := CalculateGroupAllocations(snapshot, testSecurities(), domain.GroupTypeCountry, nil)
	require.Len(t, allocs, 1)
	assert.Equal(t, "OTHER", allocs[0].Name)
	assert.InDelta(t, 150.0, allocs[0].CurrentValue, 1e-9)
}

func TestCalculateGroupAllocations_TargetOnlyGroupIncluded(t *testing.T) {
	snapshot := domain.Snapshot{
		Positions: []domain.Position{
			{Symbol: "AAPL", Quantity: 10, CurrentPrice: 100},
		},
	}
	targets := map[string]float64{"US": 0.50, "Asia": 0.20}

	allocs := CalculateGroupAllocations(snapshot, testSecurities(), domain.GroupTypeCountry, targets)
	require.Len(t, allocs, 2)

	assert.Equal(t, "Asia", allocs[0].Name)
	assert.Equal(t, 0.0, allocs[0].CurrentPct)
	assert.InDelta(t, -0.20, allocs[0].Deviation, 1e-9)
}

func TestCalculateGroupAllocations_EmptyPortfolio(t *testing.T) {
	allocs := CalculateGroupAllocations(domain.Snapshot{}, testSecurities(), domain.GroupTypeCountry, map[string]float64{"US": 0.5})
	require.Len(t, allocs, 1)
	assert.Equal(t, 0.0, allocs[0].CurrentPct)
	assert.Equal(t, 0.0, allocs[0].CurrentValue)
}

func TestCalculateGroupAllocations_IndustryType(t *testing.T) {
	snapshot := domain.Snapshot{
		Positions: []domain.Position{
			{Symbol: "AAPL", Quantity: 1, CurrentPrice: 600},
			{Symbol: "SAP", Quantity: 1, CurrentPrice: 400},
		},
	}

	allocs := CalculateGroupAllocations(snapshot, testSecurities(), domain.GroupTypeIndustry, nil)
	require.Len(t, allocs, 1)
	assert.Equal(t, "Technology", allocs[0].Name)
	assert.InDelta(t, 1.0, allocs[0].CurrentPct, 1e-9)
}

func TestCalculateGroupAllocations_HasTargetDistinguishesExplicitZero(t *testing.T) {
	snapshot := domain.Snapshot{
		Positions: []domain.Position{
			{Symbol: "AAPL", Quantity: 10, CurrentPrice: 100},
			{Symbol: "SAP", Quantity: 10, CurrentPrice: 100},
		},
	}
	targets := map[string]float64{"US": 0}

	allocs := CalculateGroupAllocations(snapshot, testSecurities(), domain.GroupTypeCountry, targets)
	require.Len(t, allocs, 2)

	assert.Equal(t, "EU", allocs[0].Name)
	assert.False(t, allocs[0].HasTarget, "EU was never configured")

	assert.Equal(t, "US", allocs[1].Name)
	assert.True(t, allocs[1].HasTarget, "an explicit zero target is still a target")
	assert.Equal(t, 0.0, allocs[1].TargetPct)
	assert.InDelta(t, 0.50, allocs[1].Deviation, 1e-9)
}
