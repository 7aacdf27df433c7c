package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/salachat/server/internal/registry"
)

// startTestServer wires a hub and registry the same way main does and serves
// them from an httptest server.
func startTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	SetConfig(&Config{
		AllowedOrigins: []string{"*"},
		MaxMessageSize: 4096,
		GracePeriod:    0,
		RateLimit:      RateLimitConfig{Burst: 100, RefillInterval: time.Second},
	})
	t.Cleanup(func() { SetConfig(nil) })

	hub := NewHub()
	reg := registry.New(hub,
		registry.WithGracePeriod(0),
		registry.WithHostInfo(registry.HostInfo{IP: "192.168.1.10", Hostname: "testhost"}),
	)
	hub.OnDisconnect(reg.Disconnect)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	ts := httptest.NewServer(SetupRoutes(hub, reg))
	t.Cleanup(ts.Close)
	return ts, reg
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": {"http://localhost:8080"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v (resp %v)", err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type wireEnvelope struct {
	Event   string          `json:"event"`
	Ack     uint64          `json:"ack"`
	Payload json.RawMessage `json:"payload"`
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, ack uint64, payload any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "ack": ack, "payload": payload})
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// awaitEvent reads frames until one with the wanted event name arrives,
// skipping unrelated pushes.
func awaitEvent(t *testing.T, conn *websocket.Conn, name string) wireEnvelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		var env wireEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("invalid frame while waiting for %s: %v", name, err)
		}
		if env.Event == name {
			return env
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func awaitAck(t *testing.T, conn *websocket.Conn, ackID uint64) ackResult {
	t.Helper()
	env := awaitEvent(t, conn, eventAck)
	if env.Ack != ackID {
		t.Fatalf("ack id = %d, want %d", env.Ack, ackID)
	}
	var result ackResult
	if err := json.Unmarshal(env.Payload, &result); err != nil {
		t.Fatalf("invalid ack payload: %v", err)
	}
	return result
}

func TestCreateJoinMessageDisconnectFlow(t *testing.T) {
	ts, _ := startTestServer(t)

	// Ana creates a room.
	ana := dialWS(t, ts)
	sendEvent(t, ana, eventCreateRoom, 1, map[string]any{"nickname": "Ana", "limit": 3, "deviceId": "dev-ana"})

	// host_info is pushed privately before the acknowledgement.
	hostInfo := awaitEvent(t, ana, registry.EventHostInfo)
	var hi registry.HostInfo
	if err := json.Unmarshal(hostInfo.Payload, &hi); err != nil || hi.Hostname != "testhost" {
		t.Errorf("bad host_info: %s (%v)", hostInfo.Payload, err)
	}

	created := awaitAck(t, ana, 1)
	if !created.Success {
		t.Fatalf("create_room failed: %+v", created)
	}
	if len(created.PIN) != 6 || created.Participants != 1 || created.Limit != 3 {
		t.Fatalf("unexpected create result: %+v", created)
	}

	// Beto joins with the PIN.
	beto := dialWS(t, ts)
	sendEvent(t, beto, eventJoinRoom, 1, map[string]any{"pin": created.PIN, "nickname": "Beto", "deviceId": "d1"})

	joined := awaitAck(t, beto, 1)
	if !joined.Success || joined.Participants != 2 || joined.Limit != 3 {
		t.Fatalf("unexpected join result: %+v", joined)
	}

	// Everyone in the room sees the membership change.
	update := awaitEvent(t, ana, registry.EventRoomUpdate)
	var ru registry.RoomUpdate
	if err := json.Unmarshal(update.Payload, &ru); err != nil {
		t.Fatalf("bad room_update: %v", err)
	}
	if ru.Participants != 2 || ru.Limit != 3 || ru.UserJoined != "Beto" {
		t.Errorf("unexpected room_update: %+v", ru)
	}

	// Beto sends a message; both members receive it trimmed and timestamped.
	sendEvent(t, beto, eventSendMessage, 0, map[string]any{"pin": created.PIN, "autor": "Beto", "message": "  hola sala  "})

	for _, conn := range []*websocket.Conn{ana, beto} {
		env := awaitEvent(t, conn, registry.EventReceiveMessage)
		var msg registry.ChatMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			t.Fatalf("bad receive_message: %v", err)
		}
		if msg.Autor != "Beto" || msg.Message != "hola sala" || msg.Timestamp <= 0 {
			t.Errorf("unexpected message: %+v", msg)
		}
	}

	// Beto disconnects; Ana is told who left and the device is freed.
	_ = beto.Close()

	left := awaitEvent(t, ana, registry.EventRoomUpdate)
	if err := json.Unmarshal(left.Payload, &ru); err != nil {
		t.Fatalf("bad room_update after leave: %v", err)
	}
	if ru.Participants != 1 || ru.UserLeft != "Beto" {
		t.Errorf("unexpected leave update: %+v", ru)
	}

	// The read-only status query reflects the final state.
	resp, err := http.Get(ts.URL + "/room/" + created.PIN)
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want 200", resp.StatusCode)
	}
	var status registry.RoomStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("bad status body: %v", err)
	}
	if status.PIN != created.PIN || status.Participants != 1 || status.Limit != 3 {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestJoinRejections(t *testing.T) {
	ts, _ := startTestServer(t)

	conn := dialWS(t, ts)
	sendEvent(t, conn, eventJoinRoom, 1, map[string]any{"pin": "000000", "nickname": "Beto", "deviceId": "d1"})

	result := awaitAck(t, conn, 1)
	if result.Success {
		t.Fatal("join to unknown PIN succeeded")
	}
	if result.Code != registry.ErrRoomNotFound.Code || result.Error == "" {
		t.Errorf("unexpected rejection: %+v", result)
	}

	// A join without an ack id gets the legacy private error_join event.
	sendEvent(t, conn, eventJoinRoom, 0, map[string]any{"pin": "000000", "nickname": "Beto", "deviceId": "d1"})
	env := awaitEvent(t, conn, registry.EventErrorJoin)
	var je registry.JoinError
	if err := json.Unmarshal(env.Payload, &je); err != nil || je.Error == "" {
		t.Errorf("bad error_join payload: %s (%v)", env.Payload, err)
	}
}

func TestRoomStatusUnknownPIN(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := http.Get(ts.URL + "/room/999999")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status code = %d, want 404", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}
