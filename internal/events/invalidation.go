package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InvalidationNotice tells subscribers that cached planning state is
// stale. A freshly connected client with no invalidation to replay gets
// a hello notice instead (Connected set, Invalidated unset).
type InvalidationNotice struct {
	Timestamp   float64 `json:"timestamp"`
	Invalidated bool    `json:"invalidated,omitempty"`
	Connected   bool    `json:"connected,omitempty"`
}

// InvalidationBroadcaster is the cache-invalidation counterpart of the
// event broadcaster: same fan-out and eviction rules, simpler payload,
// no heartbeats.
type InvalidationBroadcaster struct {
	mu          sync.Mutex
	subscribers map[string]chan InvalidationNotice
	last        *InvalidationNotice

	bufferSize int
	log        zerolog.Logger
}

// NewInvalidationBroadcaster creates an invalidation fan-out.
func NewInvalidationBroadcaster(log zerolog.Logger) *InvalidationBroadcaster {
	return &InvalidationBroadcaster{
		subscribers: make(map[string]chan InvalidationNotice),
		bufferSize:  DefaultBufferSize,
		log:         log.With().Str("component", "invalidation_broadcaster").Logger(),
	}
}

// Subscribe registers a consumer. The first notice is the last known
// invalidation if one exists, otherwise a connected hello.
func (b *InvalidationBroadcaster) Subscribe() (string, <-chan InvalidationNotice) {
	id := uuid.NewString()
	ch := make(chan InvalidationNotice, b.bufferSize)

	b.mu.Lock()
	b.subscribers[id] = ch
	if b.last != nil {
		ch <- *b.last
	} else {
		ch <- InvalidationNotice{
			Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
			Connected: true,
		}
	}
	b.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (b *InvalidationBroadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()

	if ok {
		close(ch)
	}
}

// Invalidate broadcasts a fresh invalidation notice. Slow subscribers
// are evicted, matching the event broadcaster's policy.
func (b *InvalidationBroadcaster) Invalidate() {
	notice := InvalidationNotice{
		Timestamp:   float64(time.Now().UnixNano()) / float64(time.Second),
		Invalidated: true,
	}

	b.mu.Lock()
	b.last = &notice

	var evicted []string
	for id, ch := range b.subscribers {
		select {
		case ch <- notice:
		default:
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		ch := b.subscribers[id]
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()

	for _, id := range evicted {
		b.log.Warn().Str("subscriber_id", id).Msg("Evicting slow invalidation subscriber")
	}
}

// SubscriberCount reports the current fan-out size.
func (b *InvalidationBroadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
