package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"ktmtrack/internal/domain"
	"ktmtrack/internal/hub"
	"ktmtrack/internal/store"
)

// maxSubscribedTrips bounds one client's subscription set.
const maxSubscribedTrips = 200

type WSHandler struct {
	hub    *hub.Hub
	store  *store.Store
	logger *slog.Logger
}

func NewWSHandler(h *hub.Hub, s *store.Store, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, store: s, logger: logger.With("handler", "ws")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type TripsPayload struct {
	TripIDs []string `json:"trip_ids"`
}

type SnapshotMessage struct {
	Type    string          `json:"type"`
	Payload SnapshotPayload `json:"payload"`
}

type SnapshotPayload struct {
	Vehicles []domain.VehicleRecord `json:"vehicles"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, 256)

	h.hub.Register(client)
	ServerStats.IncWSConnections()
	defer ServerStats.DecWSConnections()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}
		ServerStats.IncWSMessagesIn()

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			var payload TripsPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			trips := capTrips(payload.TripIDs, maxSubscribedTrips-len(client.Trips()))
			if len(trips) > 0 {
				h.hub.Subscribe(client, trips)
				h.sendSnapshot(client, trips)
			}

		case "unsubscribe":
			var payload TripsPayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if len(payload.TripIDs) > 0 {
				h.hub.Unsubscribe(client, payload.TripIDs)
			}

		case "ping":
			h.sendPong(client)
		}
	}
}

func capTrips(ids []string, room int) []string {
	if room <= 0 {
		return nil
	}
	if len(ids) > room {
		return ids[:room]
	}
	return ids
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
			ServerStats.IncWSMessagesOut()

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// sendSnapshot sends the current vehicles on the newly subscribed trips so
// the client does not wait for the next poll.
func (h *WSHandler) sendSnapshot(client *hub.Client, tripIDs []string) {
	vehicles := []domain.VehicleRecord{}
	for _, id := range tripIDs {
		vehicles = append(vehicles, h.store.List(store.ListOptions{TripID: id})...)
	}

	msg := SnapshotMessage{
		Type:    "snapshot",
		Payload: SnapshotPayload{Vehicles: vehicles},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if !client.Enqueue(data) {
		h.logger.Debug("failed to send snapshot", "client_id", client.ID)
	}
}

func (h *WSHandler) sendPong(client *hub.Client) {
	data, err := json.Marshal(PongMessage{Type: "pong"})
	if err != nil {
		return
	}

	client.Enqueue(data)
}
