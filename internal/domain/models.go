// Package domain contains the core planning types. It is deliberately
// dependency-free: repositories and services depend on it, never the
// other way around.
package domain

import "time"

// Allocation group axes. Targets and opportunities are keyed by
// (GroupType, GroupName).
const (
	GroupTypeCountry  = "country_group"
	GroupTypeIndustry = "industry_group"
)

// Position is one holding in the portfolio snapshot supplied by the
// portfolio collaborator.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
}

// Value returns the current market value of the position.
func (p Position) Value() float64 {
	return p.Quantity * p.CurrentPrice
}

// Security holds the read-only metadata the planner needs about a
// tradeable instrument: group membership, lot size, selection priority
// and weight bounds. Supplied by the universe collaborator.
type Security struct {
	Symbol             string   `json:"symbol"`
	Name               string   `json:"name"`
	CountryGroups      []string `json:"country_groups"`
	IndustryGroups     []string `json:"industry_groups"`
	Bucket             string   `json:"bucket"` // cooldown bucket / strategy sleeve
	LastPrice          float64  `json:"last_price"`
	LotSize            int      `json:"lot_size"`
	PriorityMultiplier float64  `json:"priority_multiplier"`
	MaxWeight          float64  `json:"max_weight"` // per-security weight cap (0 = uncapped)
}

// Groups returns the security's membership for the given group type.
func (s Security) Groups(groupType string) []string {
	switch groupType {
	case GroupTypeCountry:
		return s.CountryGroups
	case GroupTypeIndustry:
		return s.IndustryGroups
	}
	return nil
}

// Snapshot is the current portfolio view pulled from collaborators at
// the start of a planning run.
type Snapshot struct {
	Positions []Position `json:"positions"`
	CashEUR   float64    `json:"cash_eur"`
}

// TotalValue returns the combined market value of all positions.
// Cash is excluded - allocation weights are computed over invested value.
func (s Snapshot) TotalValue() float64 {
	var total float64
	for _, p := range s.Positions {
		total += p.Value()
	}
	return total
}

// PositionValues returns symbol -> market value for all positions.
func (s Snapshot) PositionValues() map[string]float64 {
	values := make(map[string]float64, len(s.Positions))
	for _, p := range s.Positions {
		values[p.Symbol] += p.Value()
	}
	return values
}

// Direction of an allocation deviation.
type Direction string

const (
	DirectionOverweight  Direction = "overweight"
	DirectionUnderweight Direction = "underweight"
)

// Opportunity is a detected deviation between current and target group
// allocation. Transient - produced fresh each planning run.
type Opportunity struct {
	GroupType     string    `json:"group_type"`
	GroupName     string    `json:"group_name"`
	Symbols       []string  `json:"symbols"` // group members present in universe
	CurrentWeight float64   `json:"current_weight"`
	TargetWeight  float64   `json:"target_weight"`
	Deviation     float64   `json:"deviation"` // current - target
	Direction     Direction `json:"direction"`
}

// Side of an action step.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// ActionStep is one executable step of a sequence. DependsOn, when set,
// references a strictly earlier step index (sell-before-buy funding),
// keeping the dependency graph a forward DAG by construction.
type ActionStep struct {
	OrderIndex  int     `json:"order_index"`
	Side        Side    `json:"side"`
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	WeightDelta float64 `json:"weight_delta"`
	Price       float64 `json:"price"`
	Bucket      string  `json:"bucket"`
	Rationale   string  `json:"rationale"`
	DependsOn   *int    `json:"depends_on,omitempty"`
}

// Value returns the estimated trade value of the step.
func (a ActionStep) Value() float64 {
	return a.Quantity * a.Price
}

// Sequence is an ordered, dependency-respecting list of action steps
// with aggregate metrics.
type Sequence struct {
	Steps            []ActionStep `json:"steps"`
	ValueDelta       float64      `json:"value_delta"`
	RiskContribution float64      `json:"risk_contribution"`
	Priority         float64      `json:"priority"`
	Hash             string       `json:"hash"`
	Label            string       `json:"label"`
}

// PlannerStatus is the published snapshot of the last planning run.
// Single current value with last-write-wins semantics.
type PlannerStatus struct {
	RunID          string    `json:"run_id"`
	HasSequences   bool      `json:"has_sequences"`
	TotalSequences int       `json:"total_sequences"`
	GeneratedAt    time.Time `json:"generated_at"`
	Summary        string    `json:"summary"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
}

// BucketPerformance reports a bucket's value over the cooldown lookback
// window. Consumed by the win-cooldown tracker.
type BucketPerformance struct {
	BucketID      string  `json:"bucket_id"`
	StartingValue float64 `json:"starting_value"`
	CurrentValue  float64 `json:"current_value"`
}
