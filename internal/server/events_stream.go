package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/utils"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 30 * time.Second
)

// streamHub tracks open streams so shutdown can end them
type streamHub struct {
	mu      sync.Mutex
	nextID  uint64
	cancels map[uint64]context.CancelFunc
}

func newStreamHub() *streamHub {
	return &streamHub{cancels: make(map[uint64]context.CancelFunc)}
}

// open derives a stream context that closeAll cancels
func (h *streamHub) open(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.cancels[id] = cancel
	h.mu.Unlock()

	return ctx, func() {
		h.mu.Lock()
		delete(h.cancels, id)
		h.mu.Unlock()
		cancel()
	}
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cancel := range h.cancels {
		cancel()
		delete(h.cancels, id)
	}
}

func (h *streamHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cancels)
}

// subscription feeds bus events into a buffered channel. Events are dropped
// when the client falls behind.
type subscription struct {
	events      chan *events.Event
	unsubscribe func()
}

// subscribe listens to the given types, or to every type when types is empty
func subscribe(bus *events.Bus, types []string, log zerolog.Logger) *subscription {
	sub := &subscription{events: make(chan *events.Event, streamBuffer)}

	handler := func(event *events.Event) {
		select {
		case sub.events <- event:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event channel full, dropping event")
		}
	}

	if len(types) == 0 {
		sub.unsubscribe = bus.SubscribeAll(handler)
		return sub
	}

	unsubs := make([]func(), 0, len(types))
	for _, t := range types {
		unsubs = append(unsubs, bus.Subscribe(events.EventType(t), handler))
	}
	sub.unsubscribe = func() {
		for _, u := range unsubs {
			u()
		}
	}
	return sub
}

// wireEvent is the JSON shape sent to stream clients
func wireEvent(event *events.Event) map[string]interface{} {
	return map[string]interface{}{
		"type":      string(event.Type),
		"module":    event.Module,
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"data":      event.Data,
	}
}

// EventsStreamHandler streams bus events as Server-Sent Events
type EventsStreamHandler struct {
	eventBus *events.Bus
	hub      *streamHub
	log      zerolog.Logger
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(eventBus *events.Bus, hub *streamHub, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		eventBus: eventBus,
		hub:      hub,
		log:      log.With().Str("component", "events_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/stream?types=a,b
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	types := utils.SplitList(r.URL.Query().Get("types"))
	sub := subscribe(h.eventBus, types, h.log)
	defer sub.unsubscribe()

	ctx, closeStream := h.hub.open(r.Context())
	defer closeStream()

	h.log.Info().Strs("types", types).Msg("Client connected to event stream")

	h.write(w, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	})
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event stream")
			return

		case event := <-sub.events:
			h.write(w, wireEvent(event))
			flusher.Flush()

		case <-heartbeat.C:
			h.write(w, map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			flusher.Flush()
		}
	}
}

func (h *EventsStreamHandler) write(w http.ResponseWriter, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal event")
		data = []byte(`{"error":"failed to encode event"}`)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
