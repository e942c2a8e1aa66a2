// Package allocation manages group-level allocation targets and the
// aggregation of current portfolio exposure by group.
package allocation

import "time"

// AllocationTarget represents the target weight of an allocation group.
// (Type, Name) is unique; targets are administrative configuration and
// read-only to the planner.
type AllocationTarget struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"` // domain.GroupTypeCountry or domain.GroupTypeIndustry
	Name      string    `json:"name"` // Group name (e.g. 'US', 'EU', 'Technology')
	TargetPct float64   `json:"target_pct"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
