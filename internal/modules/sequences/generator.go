// Package sequences expands detected opportunities into ordered,
// executable action sequences.
package sequences

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

// Generator turns an ordered opportunity list into sequences. Each
// opportunity yields an independent sub-sequence; when more than one
// opportunity contributes steps, a combined sequence is added that
// funds buys from the sells via depends_on links.
type Generator struct {
	log zerolog.Logger
}

// NewGenerator creates a new sequence generator.
func NewGenerator(log zerolog.Logger) *Generator {
	return &Generator{
		log: log.With().Str("component", "sequence_generator").Logger(),
	}
}

// Config contains parameters for sequence generation.
type Config struct {
	AvailableCash   float64 // Cash on hand for feasibility checks
	MaxBuysPerGroup int     // Symbols to spread an underweight buy across (default: 2)
	PruneInfeasible bool    // Whether to drop cash-infeasible sequences
}

// DefaultConfig returns sensible defaults for generation.
func DefaultConfig() Config {
	return Config{
		MaxBuysPerGroup: 2,
		PruneInfeasible: true,
	}
}

// Generate creates sequences from the given opportunities. The input
// order is the detector's priority order and is preserved: sub-sequences
// are emitted in opportunity order, and the combined sequence keeps each
// side's steps in that order too.
func (g *Generator) Generate(
	opportunities []domain.Opportunity,
	snapshot domain.Snapshot,
	securities map[string]domain.Security,
	config Config,
) []domain.Sequence {
	totalValue := snapshot.TotalValue()
	if totalValue <= 0 || len(opportunities) == 0 {
		return nil
	}

	if config.MaxBuysPerGroup <= 0 {
		config.MaxBuysPerGroup = DefaultConfig().MaxBuysPerGroup
	}

	type contribution struct {
		opportunity domain.Opportunity
		steps       []domain.ActionStep
	}

	var contributions []contribution
	for _, opp := range opportunities {
		steps := g.stepsFor(opp, snapshot, securities, totalValue, config)
		if len(steps) == 0 {
			continue
		}
		contributions = append(contributions, contribution{opportunity: opp, steps: steps})
	}

	if len(contributions) == 0 {
		g.log.Debug().Msg("No actionable steps from any opportunity")
		return nil
	}

	var sequences []domain.Sequence
	seen := make(map[string]bool)

	add := func(steps []domain.ActionStep, priority float64, label string) {
		normalized := normalizeSteps(steps)
		linkFunding(normalized, config.AvailableCash)

		hash := computeSequenceHash(normalized)
		if seen[hash] {
			return
		}

		if config.PruneInfeasible && config.AvailableCash > 0 {
			if !checkCashFeasibility(normalized, config.AvailableCash) {
				g.log.Debug().Str("label", label).Msg("Sequence pruned as cash-infeasible")
				return
			}
		}

		seen[hash] = true
		sequences = append(sequences, domain.Sequence{
			Steps:            normalized,
			ValueDelta:       valueDelta(normalized),
			RiskContribution: riskContribution(normalized),
			Priority:         priority,
			Hash:             hash,
			Label:            label,
		})
	}

	for _, c := range contributions {
		label := fmt.Sprintf("rebalance %s (%s)", c.opportunity.GroupName, c.opportunity.Direction)
		add(c.steps, math.Abs(c.opportunity.Deviation), label)
	}

	if len(contributions) > 1 {
		var combined []domain.ActionStep
		var priority float64
		for _, c := range contributions {
			combined = append(combined, c.steps...)
			priority += math.Abs(c.opportunity.Deviation)
		}
		add(combined, priority, "combined rebalance")
	}

	// Highest priority first; stable so equal priorities keep input order
	sort.SliceStable(sequences, func(i, j int) bool {
		return sequences[i].Priority > sequences[j].Priority
	})

	g.log.Info().
		Int("opportunities", len(opportunities)).
		Int("sequences", len(sequences)).
		Msg("Sequence generation complete")

	return sequences
}

// stepsFor expands a single opportunity into raw steps. Overweight
// groups sell down held members largest-first; underweight groups buy
// the highest-priority members, respecting per-security weight caps.
func (g *Generator) stepsFor(
	opp domain.Opportunity,
	snapshot domain.Snapshot,
	securities map[string]domain.Security,
	totalValue float64,
	config Config,
) []domain.ActionStep {
	targetValue := math.Abs(opp.Deviation) * totalValue
	if targetValue <= 0 {
		return nil
	}

	if opp.Direction == domain.DirectionOverweight {
		return g.sellSteps(opp, snapshot, securities, totalValue, targetValue)
	}
	return g.buySteps(opp, snapshot, securities, totalValue, targetValue, config)
}

func (g *Generator) sellSteps(
	opp domain.Opportunity,
	snapshot domain.Snapshot,
	securities map[string]domain.Security,
	totalValue float64,
	excessValue float64,
) []domain.ActionStep {
	values := snapshot.PositionValues()
	prices := positionPrices(snapshot)

	// Held group members, largest position first. Name tiebreak keeps
	// output deterministic when values match.
	var held []string
	for _, symbol := range opp.Symbols {
		if values[symbol] > 0 {
			held = append(held, symbol)
		}
	}
	sort.Slice(held, func(i, j int) bool {
		if values[held[i]] != values[held[j]] {
			return values[held[i]] > values[held[j]]
		}
		return held[i] < held[j]
	})

	var steps []domain.ActionStep
	remaining := excessValue
	for _, symbol := range held {
		if remaining <= 0 {
			break
		}
		price := prices[symbol]
		if price <= 0 {
			continue // no usable price, skip rather than fail the run
		}

		sellValue := math.Min(values[symbol], remaining)
		quantity := sellValue / price
		if quantity <= 0 {
			continue
		}

		steps = append(steps, domain.ActionStep{
			Side:        domain.SideSell,
			Symbol:      symbol,
			Quantity:    quantity,
			WeightDelta: -sellValue / totalValue,
			Price:       price,
			Bucket:      securities[symbol].Bucket,
			Rationale:   fmt.Sprintf("%s overweight by %.1f%%", opp.GroupName, math.Abs(opp.Deviation)*100),
		})
		remaining -= sellValue
	}

	return steps
}

func (g *Generator) buySteps(
	opp domain.Opportunity,
	snapshot domain.Snapshot,
	securities map[string]domain.Security,
	totalValue float64,
	deficitValue float64,
	config Config,
) []domain.ActionStep {
	values := snapshot.PositionValues()

	// Candidates ranked by priority multiplier, name as tiebreak
	candidates := make([]string, len(opp.Symbols))
	copy(candidates, opp.Symbols)
	sort.Slice(candidates, func(i, j int) bool {
		pi := securities[candidates[i]].PriorityMultiplier
		pj := securities[candidates[j]].PriorityMultiplier
		if pi != pj {
			return pi > pj
		}
		return candidates[i] < candidates[j]
	})

	var steps []domain.ActionStep
	remaining := deficitValue
	for _, symbol := range candidates {
		if remaining <= 0 || len(steps) >= config.MaxBuysPerGroup {
			break
		}

		sec := securities[symbol]
		price := currentPrice(snapshot, symbol)
		if price <= 0 {
			price = sec.LastPrice // not held, fall back to universe price
		}
		if price <= 0 {
			continue
		}

		buyValue := remaining
		if len(steps) < config.MaxBuysPerGroup-1 {
			// Spread across candidates rather than dumping everything
			// into the top pick
			buyValue = remaining / float64(config.MaxBuysPerGroup-len(steps))
		}

		// Per-security weight cap
		if sec.MaxWeight > 0 {
			headroom := sec.MaxWeight*totalValue - values[symbol]
			if headroom <= 0 {
				continue
			}
			buyValue = math.Min(buyValue, headroom)
		}

		quantity := buyValue / price
		if quantity <= 0 {
			continue
		}

		steps = append(steps, domain.ActionStep{
			Side:        domain.SideBuy,
			Symbol:      symbol,
			Quantity:    quantity,
			WeightDelta: buyValue / totalValue,
			Price:       price,
			Bucket:      sec.Bucket,
			Rationale:   fmt.Sprintf("%s underweight by %.1f%%", opp.GroupName, math.Abs(opp.Deviation)*100),
		})
		remaining -= buyValue
	}

	return steps
}

// normalizeSteps orders sells before buys and assigns order indices.
// Within a side, the incoming (priority) order is preserved.
func normalizeSteps(steps []domain.ActionStep) []domain.ActionStep {
	result := make([]domain.ActionStep, len(steps))
	copy(result, steps)

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Side != result[j].Side {
			return result[i].Side == domain.SideSell
		}
		return false
	})

	for i := range result {
		result[i].OrderIndex = i
		result[i].DependsOn = nil
	}

	return result
}

// linkFunding walks the normalized steps tracking the starting cash
// left after earlier buys, attaching a depends_on link from each buy to
// the most recent sell whenever that remainder cannot cover it. Sell
// proceeds never count toward the remainder, a buy that needs them must
// carry the link. Dependencies only ever point to strictly earlier
// indices, so the graph is a forward DAG by construction.
func linkFunding(steps []domain.ActionStep, availableCash float64) {
	cash := availableCash
	lastSell := -1

	for i := range steps {
		switch steps[i].Side {
		case domain.SideSell:
			lastSell = i
		case domain.SideBuy:
			if steps[i].Value() > cash && lastSell >= 0 {
				dep := lastSell
				steps[i].DependsOn = &dep
			}
			cash -= steps[i].Value()
			if cash < 0 {
				cash = 0
			}
		}
	}
}

// computeSequenceHash creates a deterministic MD5 hash for a sequence.
// Steps must be normalized first so equivalent sequences compare equal.
func computeSequenceHash(steps []domain.ActionStep) string {
	type tuple struct {
		Symbol   string  `json:"symbol"`
		Side     string  `json:"side"`
		Quantity float64 `json:"quantity"`
	}

	tuples := make([]tuple, len(steps))
	for i, step := range steps {
		tuples[i] = tuple{
			Symbol:   step.Symbol,
			Side:     string(step.Side),
			Quantity: step.Quantity,
		}
	}

	jsonBytes, err := json.Marshal(tuples)
	if err != nil {
		return ""
	}

	hash := md5.Sum(jsonBytes)
	return hex.EncodeToString(hash[:])
}

// checkCashFeasibility walks a normalized sequence checking that every
// buy is covered by cash plus preceding sell proceeds.
func checkCashFeasibility(steps []domain.ActionStep, availableCash float64) bool {
	cash := availableCash

	for _, step := range steps {
		switch step.Side {
		case domain.SideSell:
			cash += step.Value()
		case domain.SideBuy:
			if step.Value() > cash {
				return false
			}
			cash -= step.Value()
		}
	}

	return true
}

// valueDelta is the net change in invested value: buys add, sells subtract.
func valueDelta(steps []domain.ActionStep) float64 {
	var delta float64
	for _, step := range steps {
		switch step.Side {
		case domain.SideBuy:
			delta += step.Value()
		case domain.SideSell:
			delta -= step.Value()
		}
	}
	return delta
}

// riskContribution approximates the exposure a sequence adds as the sum
// of absolute buy-side weight deltas.
func riskContribution(steps []domain.ActionStep) float64 {
	var risk float64
	for _, step := range steps {
		if step.Side == domain.SideBuy {
			risk += math.Abs(step.WeightDelta)
		}
	}
	return risk
}

func positionPrices(snapshot domain.Snapshot) map[string]float64 {
	prices := make(map[string]float64, len(snapshot.Positions))
	for _, p := range snapshot.Positions {
		prices[p.Symbol] = p.CurrentPrice
	}
	return prices
}

func currentPrice(snapshot domain.Snapshot, symbol string) float64 {
	for _, p := range snapshot.Positions {
		if p.Symbol == symbol {
			return p.CurrentPrice
		}
	}
	return 0
}
