package filters

import (
	"testing"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/aristath/helmsman/internal/modules/cooldown"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() *Context {
	return &Context{
		Snapshot: domain.Snapshot{
			Positions: []domain.Position{
				{Symbol: "AAPL", Quantity: 50, CurrentPrice: 10}, // 500
				{Symbol: "SAP", Quantity: 50, CurrentPrice: 10},  // 500
			},
			CashEUR: 200,
		},
		Securities: map[string]domain.Security{
			"AAPL": {Symbol: "AAPL", CountryGroups: []string{"US"}, Bucket: "growth", LotSize: 1, LastPrice: 10},
			"SAP":  {Symbol: "SAP", CountryGroups: []string{"EU"}, Bucket: "value", LotSize: 1, LastPrice: 10},
			"ASML": {Symbol: "ASML", CountryGroups: []string{"EU"}, Bucket: "value", LotSize: 5, LastPrice: 10},
		},
		TotalValue:       1000,
		CountryTargets:   map[string]float64{"US": 0.50, "EU": 0.50},
		Cooldowns:        map[string]cooldown.Status{},
		GroupTolerance:   0.05,
		MinTradeValueEUR: 50,
	}
}

func buyStep(idx int, symbol, bucket string, qty, price float64) domain.ActionStep {
	return domain.ActionStep{
		OrderIndex: idx, Side: domain.SideBuy, Symbol: symbol,
		Quantity: qty, Price: price, Bucket: bucket,
		WeightDelta: qty * price / 1000,
	}
}

func sellStep(idx int, symbol, bucket string, qty, price float64) domain.ActionStep {
	return domain.ActionStep{
		OrderIndex: idx, Side: domain.SideSell, Symbol: symbol,
		Quantity: qty, Price: price, Bucket: bucket,
		WeightDelta: -qty * price / 1000,
	}
}

func TestCooldownGateScalesBuys(t *testing.T) {
	ctx := testContext()
	ctx.Cooldowns["value"] = cooldown.Status{
		BucketID:            "value",
		InCooldown:          true,
		AggressionReduction: 0.75,
	}

	seqs := []domain.Sequence{{
		Label: "test",
		Steps: []domain.ActionStep{
			buyStep(0, "ASML", "value", 40, 10),  // 400 -> 300
			buyStep(1, "AAPL", "growth", 20, 10), // untouched bucket
			sellStep(2, "SAP", "value", 10, 10),  // sells never scaled
		},
	}}

	out, err := NewCooldownGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Steps, 3)

	assert.InDelta(t, 30.0, out[0].Steps[0].Quantity, 1e-9)
	assert.InDelta(t, 20.0, out[0].Steps[1].Quantity, 1e-9)
	assert.InDelta(t, 10.0, out[0].Steps[2].Quantity, 1e-9)
}

func TestCooldownGateDropsTinyBuys(t *testing.T) {
	ctx := testContext()
	ctx.Cooldowns["value"] = cooldown.Status{
		BucketID:            "value",
		InCooldown:          true,
		AggressionReduction: 0.75,
	}

	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			buyStep(0, "ASML", "value", 6, 10), // 60 -> 45, below min 50
			buyStep(1, "AAPL", "growth", 20, 10),
		},
	}}

	out, err := NewCooldownGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Steps, 1)
	assert.Equal(t, "AAPL", out[0].Steps[0].Symbol)
	assert.Equal(t, 0, out[0].Steps[0].OrderIndex)
}

func TestBudgetGateClipsOvershootingBuy(t *testing.T) {
	ctx := testContext()

	// EU currently at 500/1000 = 0.50, target 0.50, tolerance 0.05:
	// ceiling 550, so only 50 of headroom
	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			buyStep(0, "ASML", "value", 20, 10), // requests 200
		},
	}}

	out, err := NewBudgetGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Steps, 1)
	assert.InDelta(t, 5.0, out[0].Steps[0].Quantity, 1e-9) // clipped to 50
}

func TestBudgetGateDropsWhenBudgetExhausted(t *testing.T) {
	ctx := testContext()
	ctx.MinTradeValueEUR = 100 // headroom of 50 is below the minimum

	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			buyStep(0, "ASML", "value", 20, 10),
		},
	}}

	out, err := NewBudgetGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBudgetGateBoundsSells(t *testing.T) {
	ctx := testContext()

	// US at 0.50, floor 0.45: at most 50 of US may be sold
	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			sellStep(0, "AAPL", "growth", 30, 10), // requests 300
		},
	}}

	out, err := NewBudgetGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 5.0, out[0].Steps[0].Quantity, 1e-9)
}

func TestBudgetGateTracksCumulativeWeights(t *testing.T) {
	ctx := testContext()
	ctx.MinTradeValueEUR = 0

	// Two buys into EU: first consumes the 50 headroom, second must drop
	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			buyStep(0, "ASML", "value", 5, 10), // 50, fits exactly
			buyStep(1, "SAP", "value", 5, 10),  // no headroom left
		},
	}}

	out, err := NewBudgetGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Steps, 1)
	assert.Equal(t, "ASML", out[0].Steps[0].Symbol)
}

func TestLotSizeGateRoundsDown(t *testing.T) {
	ctx := testContext()

	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			buyStep(0, "ASML", "value", 12, 10),   // lot 5 -> 10
			buyStep(1, "AAPL", "growth", 3.7, 10), // lot 1 -> 3
		},
	}}

	out, err := NewLotSizeGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 10.0, out[0].Steps[0].Quantity, 1e-9)
	assert.InDelta(t, 3.0, out[0].Steps[1].Quantity, 1e-9)
}

func TestLotSizeGateDropsZeroLots(t *testing.T) {
	ctx := testContext()

	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			buyStep(0, "ASML", "value", 4, 10), // lot 5 -> 0
		},
	}}

	out, err := NewLotSizeGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDedupeNetsSameSymbol(t *testing.T) {
	ctx := testContext()

	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			buyStep(0, "AAPL", "growth", 10, 10),
			sellStep(1, "SAP", "value", 5, 10),
			buyStep(2, "AAPL", "growth", 4, 10),
		},
	}}

	out, err := NewDedupeStage(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Steps, 2)

	// Net AAPL buy of 14 stays at the earliest position
	assert.Equal(t, "AAPL", out[0].Steps[0].Symbol)
	assert.Equal(t, domain.SideBuy, out[0].Steps[0].Side)
	assert.InDelta(t, 14.0, out[0].Steps[0].Quantity, 1e-9)
	assert.Equal(t, "SAP", out[0].Steps[1].Symbol)
}

func TestDedupeRemovesZeroNet(t *testing.T) {
	ctx := testContext()

	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			buyStep(0, "AAPL", "growth", 10, 10),
			sellStep(1, "AAPL", "growth", 10, 10),
		},
	}}

	out, err := NewDedupeStage(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDedupePreservesEarliestDependency(t *testing.T) {
	ctx := testContext()

	dep := 0
	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			sellStep(0, "SAP", "value", 10, 10),
			{OrderIndex: 1, Side: domain.SideBuy, Symbol: "AAPL", Quantity: 5, Price: 10, Bucket: "growth", DependsOn: &dep},
			buyStep(2, "AAPL", "growth", 3, 10),
		},
	}}

	out, err := NewDedupeStage(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Steps, 2)

	merged := out[0].Steps[1]
	assert.Equal(t, "AAPL", merged.Symbol)
	assert.InDelta(t, 8.0, merged.Quantity, 1e-9)
	require.NotNil(t, merged.DependsOn)
	assert.Equal(t, 0, *merged.DependsOn)
}

func TestRebuildRemapsDependencies(t *testing.T) {
	ctx := testContext()
	ctx.Cooldowns["value"] = cooldown.Status{
		BucketID:            "value",
		InCooldown:          true,
		AggressionReduction: 0.75,
	}

	// The first buy shrinks below minimum and drops; the second buy's
	// dependency on the sell must survive reindexing
	dep := 0
	seqs := []domain.Sequence{{
		Steps: []domain.ActionStep{
			sellStep(0, "AAPL", "growth", 20, 10),
			{OrderIndex: 1, Side: domain.SideBuy, Symbol: "ASML", Quantity: 6, Price: 10, Bucket: "value", DependsOn: &dep}, // 60 -> 45, dropped
			{OrderIndex: 2, Side: domain.SideBuy, Symbol: "SAP", Quantity: 15, Price: 10, Bucket: "growth", DependsOn: &dep},
		},
	}}

	out, err := NewCooldownGate(zerolog.Nop()).Filter(seqs, ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Steps, 2)

	assert.Equal(t, 0, out[0].Steps[0].OrderIndex)
	assert.Equal(t, 1, out[0].Steps[1].OrderIndex)
	require.NotNil(t, out[0].Steps[1].DependsOn)
	assert.Equal(t, 0, *out[0].Steps[1].DependsOn)
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	ctx := testContext()
	ctx.Cooldowns["value"] = cooldown.Status{
		BucketID:            "value",
		InCooldown:          true,
		AggressionReduction: 0.75,
	}
	ctx.CountryTargets = map[string]float64{"US": 0.50, "EU": 0.80}
	ctx.MinTradeValueEUR = 10

	seqs := []domain.Sequence{{
		Label: "combined",
		Steps: []domain.ActionStep{
			sellStep(0, "AAPL", "growth", 10, 10),
			buyStep(1, "ASML", "value", 28, 10), // cooldown: 280 -> 210, lot 5: 21->20
		},
	}}

	out := NewPipeline(zerolog.Nop()).Run(seqs, ctx)
	require.Len(t, out, 1)
	require.Len(t, out[0].Steps, 2)
	assert.InDelta(t, 20.0, out[0].Steps[1].Quantity, 1e-9)
}

func TestPipelinePreservesSequenceOrder(t *testing.T) {
	ctx := testContext()
	ctx.MinTradeValueEUR = 0

	seqs := []domain.Sequence{
		{Label: "first", Priority: 0.3, Steps: []domain.ActionStep{sellStep(0, "AAPL", "growth", 2, 10)}},
		{Label: "second", Priority: 0.2, Steps: []domain.ActionStep{sellStep(0, "AAPL", "growth", 1, 10)}},
	}

	out := NewPipeline(zerolog.Nop()).Run(seqs, ctx)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].Label)
	assert.Equal(t, "second", out[1].Label)
}
