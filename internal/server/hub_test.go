package server

import (
	"encoding/json"
	"testing"

	"github.com/salachat/server/internal/registry"
)

// addTestClient inserts a client into the hub's tables without running the
// pump goroutines, which need a live WebSocket connection.
func addTestClient(h *Hub, id string, buffer int) *Client {
	c := &Client{id: id, send: make(chan []byte, buffer), addr: "test"}
	h.mutex.Lock()
	h.clients[id] = c
	h.mutex.Unlock()
	return c
}

func receiveEnvelope(t *testing.T, c *Client) outEnvelopeWire {
	t.Helper()
	select {
	case raw := <-c.send:
		var env outEnvelopeWire
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("invalid frame: %v", err)
		}
		return env
	default:
		t.Fatal("no frame queued for client")
		return outEnvelopeWire{}
	}
}

type outEnvelopeWire struct {
	Event   string          `json:"event"`
	Ack     uint64          `json:"ack"`
	Payload json.RawMessage `json:"payload"`
}

func TestHubDeliverReachesOneConnection(t *testing.T) {
	h := NewHub()
	c1 := addTestClient(h, "c1", 1)
	c2 := addTestClient(h, "c2", 1)

	h.Deliver("c1", registry.Event{Name: registry.EventHostInfo, Payload: registry.HostInfo{IP: "10.0.0.1", Hostname: "h"}})

	env := receiveEnvelope(t, c1)
	if env.Event != registry.EventHostInfo {
		t.Errorf("event = %q, want host_info", env.Event)
	}
	select {
	case <-c2.send:
		t.Error("Deliver leaked to another connection")
	default:
	}
}

func TestHubBroadcastReachesDeliveryGroupOnly(t *testing.T) {
	h := NewHub()
	member1 := addTestClient(h, "m1", 1)
	member2 := addTestClient(h, "m2", 1)
	outsider := addTestClient(h, "out", 1)

	h.Join("m1", "123456")
	h.Join("m2", "123456")
	h.Join("out", "654321")

	h.Broadcast("123456", registry.Event{Name: registry.EventRoomUpdate, Payload: registry.RoomUpdate{Participants: 2, Limit: 5}})

	for _, c := range []*Client{member1, member2} {
		env := receiveEnvelope(t, c)
		if env.Event != registry.EventRoomUpdate {
			t.Errorf("event = %q, want room_update", env.Event)
		}
		var update registry.RoomUpdate
		if err := json.Unmarshal(env.Payload, &update); err != nil || update.Participants != 2 {
			t.Errorf("bad payload: %s (%v)", env.Payload, err)
		}
	}
	select {
	case <-outsider.send:
		t.Error("broadcast leaked outside the delivery group")
	default:
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	h := NewHub()
	c := addTestClient(h, "c1", 1)

	h.Join("c1", "123456")
	h.Leave("c1", "123456")

	h.Broadcast("123456", registry.Event{Name: registry.EventRoomUpdate, Payload: registry.RoomUpdate{}})

	select {
	case <-c.send:
		t.Error("client still receives after leaving the group")
	default:
	}
}

func TestHubBroadcastDropsClientsWithFullBuffers(t *testing.T) {
	h := NewHub()
	stuck := addTestClient(h, "stuck", 0) // zero capacity: every send fails

	h.Join("stuck", "123456")
	h.Broadcast("123456", registry.Event{Name: registry.EventReceiveMessage, Payload: registry.ChatMessage{Autor: "Ana", Message: "hola"}})

	h.mutex.RLock()
	_, stillThere := h.clients["stuck"]
	h.mutex.RUnlock()
	if stillThere {
		t.Error("client with full send buffer was not removed")
	}
	if !stuck.closed {
		t.Error("removed client not marked closed")
	}
}

// A client evicted for a full send buffer still has a live readPump that
// will unregister later; that late unregister must reach the registry so
// the membership and device index are released.
func TestEvictedClientDisconnectReachesRegistry(t *testing.T) {
	h := NewHub()
	reg := registry.New(h,
		registry.WithGracePeriod(0),
		registry.WithHostInfo(registry.HostInfo{IP: "10.0.0.1", Hostname: "h"}),
	)
	h.OnDisconnect(reg.Disconnect)

	addTestClient(h, "conn-host", 8)
	stuck := addTestClient(h, "conn-stuck", 0)

	created, err := reg.CreateRoom("conn-host", "Ana", 3, "dev-ana")
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if _, err := reg.JoinRoom("conn-stuck", created.PIN, "Beto", "d1"); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}

	// The join broadcast cannot be queued on the zero-capacity channel, so
	// the hub evicts the client before its pump ever unregisters.
	h.mutex.RLock()
	_, present := h.clients["conn-stuck"]
	h.mutex.RUnlock()
	if present {
		t.Fatal("client with full send buffer was not evicted")
	}

	// The pump's unregister arrives after the eviction.
	h.removeClient(stuck)

	status, ok := reg.Status(created.PIN)
	if !ok {
		t.Fatal("room vanished")
	}
	if status.Participants != 1 {
		t.Errorf("Participants = %d, want 1: evicted member not removed from registry", status.Participants)
	}
	if _, err := reg.JoinRoom("conn-new", created.PIN, "Beto", "d1"); err != nil {
		t.Errorf("device still locked after eviction disconnect: %v", err)
	}
}

func TestHubJoinUnknownConnectionIsNoop(t *testing.T) {
	h := NewHub()
	h.Join("ghost", "123456")
	h.Leave("ghost", "123456")
	h.Deliver("ghost", registry.Event{Name: registry.EventHostInfo})
	h.Broadcast("123456", registry.Event{Name: registry.EventRoomUpdate})
}
