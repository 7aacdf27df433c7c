// Package server coordinates client registration, per-room delivery groups,
// and connection cleanup for the SalaChat WebSocket transport via the Hub
// type.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/salachat/server/internal/registry"
)

// Hub tracks every live WebSocket connection and the delivery group of each
// room. It implements registry.Port, so the coordinator pushes events and
// manages group membership without knowing anything about WebSockets.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	// onDisconnect receives the connection id of every unregistered client.
	// Wired to the registry's disconnect handler.
	onDisconnect func(connID string)
}

// NewHub creates and initializes a new Hub instance with all necessary
// channels and maps. The returned Hub is ready to manage connections once
// Run is started.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// OnDisconnect registers the callback invoked with the connection id of each
// client that goes away. Must be set before Run.
func (h *Hub) OnDisconnect(fn func(connID string)) {
	h.onDisconnect = fn
}

// GetRegisterChan returns the channel used for registering new clients to the hub.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients from the hub.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine as it
// runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Warn().Msg("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()

			connectionsActive.Inc()
			log.Info().Str("conn", client.id).Str("addr", client.addr).Int("total", clientCount).Msg("client registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// removeClient drops a client from the client table and every delivery
// group, then reports the disconnect to the coordinator. The callback runs
// outside the hub lock because the coordinator broadcasts back through it.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client.id]
	if ok {
		delete(h.clients, client.id)
		client.closed = true
		for pin, group := range h.rooms {
			delete(group, client)
			if len(group) == 0 {
				delete(h.rooms, pin)
			}
		}
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if ok {
		close(client.send)
		connectionsActive.Dec()
		log.Info().Str("conn", client.id).Str("addr", client.addr).Int("total", clientCount).Msg("client unregistered")
	}

	// A client evicted for a full send buffer is already gone from the
	// tables when its pump unregisters, but the registry still holds its
	// membership; the disconnect must reach it either way. Cleanup there
	// is idempotent.
	if h.onDisconnect != nil {
		h.onDisconnect(client.id)
	}
}

// Join adds a connection to a room's delivery group.
func (h *Hub) Join(connID, pin string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	group, ok := h.rooms[pin]
	if !ok {
		group = make(map[*Client]struct{})
		h.rooms[pin] = group
	}
	group[client] = struct{}{}
}

// Leave removes a connection from a room's delivery group. Unknown
// connections and groups are no-ops.
func (h *Hub) Leave(connID, pin string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	if group, ok := h.rooms[pin]; ok {
		delete(group, client)
		if len(group) == 0 {
			delete(h.rooms, pin)
		}
	}
}

// Deliver sends an event to a single connection. Best-effort: events for
// unknown or slow connections are dropped.
func (h *Hub) Deliver(connID string, ev registry.Event) {
	payload, err := json.Marshal(outEnvelope{Event: ev.Name, Payload: ev.Payload})
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name).Msg("failed to encode event")
		return
	}

	h.mutex.RLock()
	client, ok := h.clients[connID]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	h.safeSend(client, payload)
}

// Broadcast fans an event out to every connection in a room's delivery
// group. Clients whose send buffers are full are removed.
func (h *Hub) Broadcast(pin string, ev registry.Event) {
	payload, err := json.Marshal(outEnvelope{Event: ev.Name, Payload: ev.Payload})
	if err != nil {
		log.Error().Err(err).Str("event", ev.Name).Msg("failed to encode event")
		return
	}

	h.mutex.RLock()
	group := h.rooms[pin]
	targets := make([]*Client, 0, len(group))
	for client := range group {
		targets = append(targets, client)
	}
	h.mutex.RUnlock()

	var failed []*Client
	for _, client := range targets {
		if !h.safeSend(client, payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Msg("recovered from panic in safeSend")
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client.id]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// removeFailedClients removes clients that failed to receive messages and
// closes their channels.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client.id]; exists {
			delete(h.clients, client.id)
			client.closed = true
			for pin, group := range h.rooms {
				delete(group, client)
				if len(group) == 0 {
					delete(h.rooms, pin)
				}
			}
			channelsToClose = append(channelsToClose, client.send)
			log.Warn().Str("conn", client.id).Str("addr", client.addr).Msg("client removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients gracefully closes all active client connections.
func (h *Hub) shutdownClients() {
	log.Info().Msg("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Error().Err(err).Str("addr", client.addr).Msg("error closing client connection")
				}
			}
		}
	}

	log.Info().Int("count", len(clients)).Msg("closed client connections")
}

// Shutdown initiates graceful shutdown of the hub and waits for all
// goroutines to complete, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
