package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/helmsman/internal/events"
	"github.com/rs/zerolog"
)

// EventsStreamHandler serves the planning status stream over
// Server-Sent Events. Replay of the last status and heartbeats come
// from the broadcaster, the handler just relays.
type EventsStreamHandler struct {
	broadcaster *events.Broadcaster
	log         zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler.
func NewEventsStreamHandler(broadcaster *events.Broadcaster, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		broadcaster: broadcaster,
		log:         log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream requests (SSE).
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sub := h.broadcaster.Subscribe()
	defer sub.Close()

	h.log.Info().Str("subscriber_id", sub.ID).Msg("Client connected to event stream")

	done := r.Context().Done()

	for {
		select {
		case <-done:
			h.log.Info().Str("subscriber_id", sub.ID).Msg("Client disconnected from event stream")
			return

		case event, open := <-sub.Events():
			if !open {
				// Evicted by the broadcaster
				h.log.Warn().Str("subscriber_id", sub.ID).Msg("Subscription closed by broadcaster")
				return
			}

			fmt.Fprintf(w, "data: %s\n\n", h.encodeEvent(event))
			flusher.Flush()
		}
	}
}

// encodeEvent encodes an event to its wire JSON.
func (h *EventsStreamHandler) encodeEvent(event events.Event) string {
	data, err := json.Marshal(map[string]interface{}{
		"type":      string(event.Type),
		"source":    event.Source,
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"data":      event.Data,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		return `{"error":"failed to encode event"}`
	}
	return string(data)
}

// InvalidationStreamHandler serves cache invalidation notices over SSE.
type InvalidationStreamHandler struct {
	broadcaster *events.InvalidationBroadcaster
	log         zerolog.Logger
}

// NewInvalidationStreamHandler creates a new invalidation stream handler.
func NewInvalidationStreamHandler(broadcaster *events.InvalidationBroadcaster, log zerolog.Logger) *InvalidationStreamHandler {
	return &InvalidationStreamHandler{
		broadcaster: broadcaster,
		log:         log.With().Str("component", "invalidation_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/invalidations requests (SSE).
func (h *InvalidationStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	id, notices := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)

	h.log.Info().Str("subscriber_id", id).Msg("Client connected to invalidation stream")

	done := r.Context().Done()

	for {
		select {
		case <-done:
			h.log.Info().Str("subscriber_id", id).Msg("Client disconnected from invalidation stream")
			return

		case notice, open := <-notices:
			if !open {
				return
			}

			data, err := json.Marshal(notice)
			if err != nil {
				h.log.Error().Err(err).Msg("Failed to marshal invalidation notice")
				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
