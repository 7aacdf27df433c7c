// Package server wires HTTP handlers into a router for the SalaChat
// application via routing helpers.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/salachat/server/internal/registry"
)

// SetupRoutes configures and returns the HTTP handler with all application
// routes: health check, WebSocket endpoint, room status query, and metrics.
// CORS is applied from the configured origin allow-list.
func SetupRoutes(hub *Hub, reg *registry.Registry) http.Handler {
	registerRoomsGauge(reg)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws", ServeWs(hub, reg))
	router.HandleFunc("/room/{pin:[0-9]{6}}", RoomStatusHandler(reg)).Methods(http.MethodGet)
	router.Handle("/metrics", MetricsHandler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins(),
		AllowedMethods: []string{http.MethodGet},
	})
	return c.Handler(router)
}

// corsOrigins maps the normalized allow-list onto the CORS middleware; a
// wildcard in the configuration becomes a wildcard here too.
func corsOrigins() []string {
	configMu.RLock()
	defer configMu.RUnlock()

	if allowAllOrigins {
		return []string{"*"}
	}
	return append([]string(nil), activeConfig.AllowedOrigins...)
}
