// Package server exposes Prometheus instruments and the /metrics handler.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salachat/server/internal/registry"
)

var (
	connectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "salachat_connections_active",
		Help: "Number of live WebSocket connections.",
	})

	roomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salachat_rooms_created_total",
		Help: "Total rooms created since start.",
	})

	joinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salachat_joins_total",
		Help: "Total successful room joins since start.",
	})

	messagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "salachat_messages_total",
		Help: "Total send_message events processed since start.",
	})
)

func init() {
	prometheus.MustRegister(connectionsActive, roomsCreatedTotal, joinsTotal, messagesTotal)
}

// registerRoomsGauge exposes the registry's active room count as a gauge
// sampled at scrape time. Re-registration (a second SetupRoutes in tests)
// is ignored.
func registerRoomsGauge(reg *registry.Registry) {
	_ = prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "salachat_rooms_active",
		Help: "Number of active rooms.",
	}, func() float64 {
		return float64(reg.RoomCount())
	}))
}

// MetricsHandler exposes Prometheus metrics at /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
