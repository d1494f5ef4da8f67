package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"ktmtrack/internal/domain"
)

// ClientGauge is satisfied by metrics.Collector.
type ClientGauge interface {
	SetClients(n int)
}

type Client struct {
	ID    string
	Send  chan []byte
	trips map[string]struct{}
	mu    sync.RWMutex

	// sendMu guards Send against a close racing an enqueue.
	sendMu sync.Mutex
	closed bool
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:    id,
		Send:  make(chan []byte, bufferSize),
		trips: make(map[string]struct{}),
	}
}

// Enqueue queues data without blocking. It reports false when the buffer
// is full or the client has been closed.
func (c *Client) Enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// close closes Send once.
func (c *Client) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) HasTrip(tripID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.trips[tripID]
	return ok
}

func (c *Client) AddTrips(tripIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tripIDs {
		c.trips[id] = struct{}{}
	}
}

func (c *Client) RemoveTrips(tripIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range tripIDs {
		delete(c.trips, id)
	}
}

func (c *Client) Trips() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	trips := make([]string, 0, len(c.trips))
	for id := range c.trips {
		trips = append(trips, id)
	}
	return trips
}

// Hub fans vehicle deltas out to the clients subscribed to each trip.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	tripClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []domain.VehicleDelta
	done       chan struct{}

	logger  *slog.Logger
	metrics ClientGauge
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		tripClients: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client, 16),
		unregister:  make(chan *Client, 16),
		broadcast:   make(chan []domain.VehicleDelta, 256),
		done:        make(chan struct{}),
		logger:      logger.With("component", "hub"),
	}
}

func (h *Hub) SetMetrics(m ClientGauge) { h.metrics = m }

// Run serves registrations and broadcasts until ctx ends, then closes
// every client. Register and Unregister stay safe to call afterwards.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.reportClients(total)
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)

		case deltas := <-h.broadcast:
			h.fanoutDeltas(deltas)
		}
	}
}

func (h *Hub) Subscribe(client *Client, tripIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.AddTrips(tripIDs)

	for _, tripID := range tripIDs {
		if h.tripClients[tripID] == nil {
			h.tripClients[tripID] = make(map[*Client]struct{})
		}
		h.tripClients[tripID][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, tripIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.RemoveTrips(tripIDs)
	h.dropSubscriptions(client, tripIDs)
}

// Broadcast queues deltas for fan-out. When the queue is full the batch is
// dropped; the next poll carries fresh positions.
func (h *Hub) Broadcast(deltas []domain.VehicleDelta) {
	if len(deltas) == 0 {
		return
	}
	select {
	case h.broadcast <- deltas:
	default:
		h.logger.Warn("broadcast channel full, dropping deltas", "count", len(deltas))
	}
}

// Register adds a client. After Run has stopped the client is closed
// instead.
func (h *Hub) Register(client *Client) {
	if h.stopped() {
		client.close()
		return
	}
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	if h.stopped() {
		client.close()
		return
	}
	select {
	case h.unregister <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscribedTrips counts trips with at least one subscriber.
func (h *Hub) SubscribedTrips() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tripClients)
}

type VehiclesMessage struct {
	Type    string          `json:"type"`
	Payload VehiclesPayload `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

type VehiclesPayload struct {
	Updates []*domain.VehicleRecord `json:"updates,omitempty"`
	Removes []RemovedVehicle        `json:"removes,omitempty"`
}

type RemovedVehicle struct {
	Key    string `json:"key"`
	TripID string `json:"trip_id"`
}

func (h *Hub) fanoutDeltas(deltas []domain.VehicleDelta) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clientDeltas := make(map[*Client][]domain.VehicleDelta)

	for _, d := range deltas {
		if clients, ok := h.tripClients[d.TripID]; ok {
			for client := range clients {
				clientDeltas[client] = append(clientDeltas[client], d)
			}
		}
	}

	now := time.Now()
	for client, ds := range clientDeltas {
		data, err := json.Marshal(buildVehiclesMessage(ds, now))
		if err != nil {
			continue
		}

		if !client.Enqueue(data) {
			h.logger.Debug("client send buffer full", "client_id", client.ID)
		}
	}
}

func buildVehiclesMessage(deltas []domain.VehicleDelta, now time.Time) VehiclesMessage {
	var payload VehiclesPayload

	for _, d := range deltas {
		switch d.Type {
		case domain.DeltaUpdate:
			payload.Updates = append(payload.Updates, d.Vehicle)
		case domain.DeltaRemove:
			payload.Removes = append(payload.Removes, RemovedVehicle{Key: d.Key, TripID: d.TripID})
		}
	}

	return VehiclesMessage{Type: "vehicles", Payload: payload, SentAt: now}
}

func (h *Hub) dropSubscriptions(client *Client, tripIDs []string) {
	for _, tripID := range tripIDs {
		if h.tripClients[tripID] != nil {
			delete(h.tripClients[tripID], client)
			if len(h.tripClients[tripID]) == 0 {
				delete(h.tripClients, tripID)
			}
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}

	h.dropSubscriptions(client, client.Trips())
	delete(h.clients, client)
	client.close()
	total := len(h.clients)
	h.mu.Unlock()

	h.reportClients(total)
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", total)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.tripClients = make(map[string]map[*Client]struct{})
	h.reportClients(0)
}

func (h *Hub) reportClients(n int) {
	if h.metrics != nil {
		h.metrics.SetClients(n)
	}
}
