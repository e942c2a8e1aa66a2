package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultBufferSize bounds each subscriber's queue. A subscriber
	// whose queue is full at publish time is evicted, never waited on.
	DefaultBufferSize = 100

	// DefaultHeartbeatInterval is how long a subscriber may be silent
	// before it receives a liveness ping.
	DefaultHeartbeatInterval = 5 * time.Second
)

// Subscription is one consumer's view of the broadcaster. The Events
// channel is closed when the subscriber is evicted or the subscription
// is closed.
type Subscription struct {
	ID string

	ch       chan Event
	activity chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Events returns the channel the subscriber reads from.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close terminates the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Broadcaster fans events out to subscribers. One producer path, many
// consumers; delivery to a single subscriber never blocks the publisher.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[string]*Subscription
	cached      *Event // last status event, replayed to late joiners

	bufferSize        int
	heartbeatInterval time.Duration
	log               zerolog.Logger
}

// Options tune broadcaster behavior. Zero values fall back to defaults.
type Options struct {
	BufferSize        int
	HeartbeatInterval time.Duration
}

// NewBroadcaster creates a broadcaster with default buffering and
// heartbeat cadence.
func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return NewBroadcasterWithOptions(log, Options{})
}

// NewBroadcasterWithOptions creates a broadcaster with explicit tuning.
func NewBroadcasterWithOptions(log zerolog.Logger, opts Options) *Broadcaster {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Broadcaster{
		subscribers:       make(map[string]*Subscription),
		bufferSize:        opts.BufferSize,
		heartbeatInterval: opts.HeartbeatInterval,
		log:               log.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers a new consumer. If a status event is cached it is
// delivered as the subscription's first event, so late joiners see the
// last known state immediately.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		ch:       make(chan Event, b.bufferSize),
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub.ID] = sub
	if b.cached != nil {
		// Buffer is empty at this point, the replay always fits
		sub.ch <- *b.cached
	}
	b.mu.Unlock()

	go b.heartbeatLoop(sub)

	b.log.Debug().Str("subscriber_id", sub.ID).Msg("Subscriber registered")
	return sub
}

// Publish caches the event when it is a planning status update and
// pushes it to every subscriber. Subscribers with a full buffer are
// evicted rather than blocking the publisher.
func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	if event.Type == PlanningStatusUpdated {
		cached := event
		b.cached = &cached
	}

	var evicted []*Subscription
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- event:
			// Wake the heartbeat loop so its silence timer resets
			select {
			case sub.activity <- struct{}{}:
			default:
			}
		default:
			evicted = append(evicted, sub)
			delete(b.subscribers, sub.ID)
		}
	}
	b.mu.Unlock()

	for _, sub := range evicted {
		b.log.Warn().Str("subscriber_id", sub.ID).Msg("Evicting slow subscriber")
		sub.Close()
	}
}

// Emit builds an event from the parts and publishes it.
func (b *Broadcaster) Emit(eventType EventType, source string, data map[string]interface{}) {
	b.Publish(NewEvent(eventType, source, data))
}

// Cached returns the last published status event, if any.
func (b *Broadcaster) Cached() *Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cached == nil {
		return nil
	}
	cached := *b.cached
	return &cached
}

// SubscriberCount reports the current fan-out size.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// heartbeatLoop sends a liveness ping after every heartbeatInterval of
// silence. The counter increments across consecutive idle periods and
// resets to zero whenever a real event goes out. Heartbeats are dropped
// silently on a full buffer, they never evict.
func (b *Broadcaster) heartbeatLoop(sub *Subscription) {
	defer b.remove(sub)

	timer := time.NewTimer(b.heartbeatInterval)
	defer timer.Stop()

	counter := 0
	for {
		select {
		case <-sub.done:
			return

		case <-sub.activity:
			counter = 0
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.heartbeatInterval)

		case <-timer.C:
			counter++
			select {
			case sub.ch <- b.heartbeatEvent(counter):
			default:
			}
			timer.Reset(b.heartbeatInterval)
		}
	}
}

// heartbeatEvent mirrors the cached status payload with an added
// heartbeat counter, so consumers can treat it like any status event.
func (b *Broadcaster) heartbeatEvent(counter int) Event {
	data := map[string]interface{}{"heartbeat": counter}

	b.mu.Lock()
	if b.cached != nil {
		for k, v := range b.cached.Data {
			data[k] = v
		}
		data["heartbeat"] = counter
	}
	b.mu.Unlock()

	return NewEvent(PlanningStatusUpdated, "broadcaster", data)
}

// remove unregisters the subscription and closes its channel. Called
// exactly once, from the heartbeat loop's exit path.
func (b *Broadcaster) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, sub.ID)
	b.mu.Unlock()
	close(sub.ch)
}
