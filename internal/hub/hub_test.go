package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ktmtrack/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type gauge struct {
	mu sync.Mutex
	n  int
}

func (g *gauge) SetClients(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = n
}

func (g *gauge) get() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

func startHub(t *testing.T) (*Hub, *gauge) {
	t.Helper()
	h := NewHub(discard)
	g := &gauge{}
	h.SetMetrics(g)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h, g
}

func receive(t *testing.T, c *Client) VehiclesMessage {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg VehiclesMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return VehiclesMessage{}
	}
}

func TestHubFansOutByTrip(t *testing.T) {
	h, g := startHub(t)

	a := NewClient("a", 8)
	b := NewClient("b", 8)
	h.Register(a)
	h.Register(b)
	require.Eventually(t, func() bool { return g.get() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, h.ClientCount())

	h.Subscribe(a, []string{"ic-1"})
	h.Subscribe(b, []string{"ic-1", "ets-1"})
	assert.Equal(t, 2, h.SubscribedTrips())

	v := &domain.VehicleRecord{TripID: "ets-1", Label: "ETS 1", VehicleID: "9"}
	h.Broadcast([]domain.VehicleDelta{
		{Type: domain.DeltaUpdate, Key: "9", TripID: "ets-1", Vehicle: v},
		{Type: domain.DeltaRemove, Key: "3", TripID: "ic-1"},
		{Type: domain.DeltaRemove, Key: "4", TripID: "km-1"},
	})

	msgA := receive(t, a)
	assert.Equal(t, "vehicles", msgA.Type)
	assert.Empty(t, msgA.Payload.Updates)
	assert.Equal(t, []RemovedVehicle{{Key: "3", TripID: "ic-1"}}, msgA.Payload.Removes)

	msgB := receive(t, b)
	require.Len(t, msgB.Payload.Updates, 1)
	assert.Equal(t, "ETS 1", msgB.Payload.Updates[0].Label)
	assert.Len(t, msgB.Payload.Removes, 1)
}

func TestHubUnsubscribeAndUnregister(t *testing.T) {
	h, g := startHub(t)

	c := NewClient("c", 8)
	h.Register(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	h.Subscribe(c, []string{"ic-1", "ic-2"})
	h.Unsubscribe(c, []string{"ic-1"})
	assert.False(t, c.HasTrip("ic-1"))
	assert.True(t, c.HasTrip("ic-2"))
	assert.Equal(t, 1, h.SubscribedTrips())

	h.Broadcast([]domain.VehicleDelta{{Type: domain.DeltaRemove, Key: "1", TripID: "ic-1"}})
	h.Broadcast([]domain.VehicleDelta{{Type: domain.DeltaRemove, Key: "2", TripID: "ic-2"}})
	msg := receive(t, c)
	assert.Equal(t, "ic-2", msg.Payload.Removes[0].TripID)

	h.Unregister(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 0 && g.get() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, h.SubscribedTrips())

	_, open := <-c.Send
	assert.False(t, open)
}

func TestBroadcastIgnoresEmpty(t *testing.T) {
	h := NewHub(discard)
	h.Broadcast(nil)
	assert.Empty(t, h.broadcast)
}

func TestHubShutdown(t *testing.T) {
	h := NewHub(discard)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := NewClient("c", 1)
	h.Register(c)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// a reader still replying while the hub closes its clients
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				c.Enqueue([]byte(`{"type":"pong"}`))
			}
		}
	}()

	cancel()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	close(stop)
	wg.Wait()

	assert.False(t, c.Enqueue([]byte("late")))
	for range c.Send {
	}

	unregistered := make(chan struct{})
	go func() {
		for i := 0; i < 64; i++ {
			h.Unregister(NewClient("late", 1))
		}
		close(unregistered)
	}()
	select {
	case <-unregistered:
	case <-time.After(time.Second):
		t.Fatal("Unregister blocked after shutdown")
	}

	late := NewClient("late", 1)
	h.Register(late)
	_, open := <-late.Send
	assert.False(t, open)
}
