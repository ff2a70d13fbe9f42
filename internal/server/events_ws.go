package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/rebalancer/internal/events"
	"github.com/aristath/rebalancer/internal/utils"
)

const wsWriteTimeout = 10 * time.Second

// EventsWebSocketHandler streams bus events over a WebSocket. The stream is
// one-way; client messages are ignored.
type EventsWebSocketHandler struct {
	eventBus *events.Bus
	hub      *streamHub
	log      zerolog.Logger
}

// NewEventsWebSocketHandler creates a new WebSocket events handler
func NewEventsWebSocketHandler(eventBus *events.Bus, hub *streamHub, log zerolog.Logger) *EventsWebSocketHandler {
	return &EventsWebSocketHandler{
		eventBus: eventBus,
		hub:      hub,
		log:      log.With().Str("component", "events_ws").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws?types=a,b
func (h *EventsWebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	types := utils.SplitList(r.URL.Query().Get("types"))
	sub := subscribe(h.eventBus, types, h.log)
	defer sub.unsubscribe()

	ctx, closeStream := h.hub.open(r.Context())
	defer closeStream()

	// CloseRead discards client frames and cancels ctx when the peer closes
	ctx = conn.CloseRead(ctx)

	h.log.Info().Strs("types", types).Msg("Client connected to event websocket")

	if err := h.send(ctx, conn, map[string]interface{}{
		"type":    "connected",
		"message": "Connected to event stream",
	}); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event websocket")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case event := <-sub.events:
			if err := h.send(ctx, conn, wireEvent(event)); err != nil {
				h.log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}

		case <-heartbeat.C:
			if err := conn.Ping(ctx); err != nil {
				h.log.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}
		}
	}
}

func (h *EventsWebSocketHandler) send(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
