// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the room status query.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/salachat/server/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// ServeWs returns an http.HandlerFunc that upgrades requests to WebSocket
// and registers the resulting client with the hub. It takes the hub and the
// registry as dependencies.
func ServeWs(hub *Hub, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}

		client := NewClient(conn, hub, reg, r.RemoteAddr)

		// Register the client with the hub; the hub will launch the pump goroutines.
		hub.register <- client
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "SalaChat server is running!")
}

// RoomStatusHandler serves the read-only room snapshot at /room/{pin}. This
// is a debugging surface, not part of the client protocol.
func RoomStatusHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pin := mux.Vars(r)["pin"]

		status, ok := reg.Status(pin)
		if !ok {
			http.Error(w, `{"error":"room not found"}`, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Error().Err(err).Str("pin", pin).Msg("error writing room status response")
		}
	}
}
