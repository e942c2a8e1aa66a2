// Package events provides the planning event fan-out: typed events,
// a broadcaster with cached replay and heartbeats, and a separate
// cache-invalidation stream.
package events

import "time"

// EventType identifies the kind of event flowing through the broadcaster.
type EventType string

// Event types emitted by the planning engine and its collaborators.
const (
	PricesUpdated            EventType = "PRICES_UPDATED"
	PortfolioSynced          EventType = "PORTFOLIO_SYNCED"
	ScoresCalculated         EventType = "SCORES_CALCULATED"
	CorrelationUpdated       EventType = "CORRELATION_UPDATED"
	RegimeTrained            EventType = "REGIME_TRAINED"
	MLRetrained              EventType = "ML_RETRAINED"
	PlanningStatusUpdated    EventType = "PLANNING_STATUS_UPDATED"
	AllocationTargetsChanged EventType = "ALLOCATION_TARGETS_CHANGED"
	CacheInvalidated         EventType = "CACHE_INVALIDATED"
)

// Event is a single broadcast message.
type Event struct {
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType EventType, source string, data map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
