// Package server manages individual WebSocket clients, handling read/write
// pumps, event dispatch into the registry, rate limiting, and lifecycle
// control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/salachat/server/internal/registry"
)

// Client represents a WebSocket client connection. It carries the opaque
// connection identifier the registry knows the connection by.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	reg            *registry.Registry
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
}

// NewClient creates a new Client for the given connection with a fresh
// connection identifier. The send channel is buffered to absorb bursts of
// broadcasts.
func NewClient(conn *websocket.Conn, hub *Hub, reg *registry.Registry, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	limiter := newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)

	return &Client{
		id:             uuid.NewString(),
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		reg:            reg,
		addr:           addr,
		closed:         false,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    limiter,
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			log.Error().Err(err).Str("addr", c.addr).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Warn().Str("addr", c.addr).Int64("max", c.maxMessageSize).Msg("message exceeded maximum size")
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		log.Info().Str("addr", c.addr).Err(err).Msg("client disconnected")
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Info().Str("addr", c.addr).Err(err).Msg("client connection closed")
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		log.Warn().Str("addr", c.addr).Err(err).Msg("unexpected WebSocket error")
		return true
	}

	log.Warn().Str("addr", c.addr).Err(err).Msg("WebSocket read error")
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		log.Warn().Str("addr", c.addr).Int("burst", c.rateLimit.Burst).Dur("interval", c.rateLimit.RefillInterval).Msg("rate limit exceeded; discarding message")
		return false
	}
	return true
}

// dispatch decodes an inbound frame and routes it to the registry operation
// it names. A panic inside any handler is converted into an internal-error
// acknowledgement instead of tearing down the connection.
func (c *Client) dispatch(raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		log.Warn().Str("addr", c.addr).Err(err).Msg("invalid envelope")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("event", env.Event).Str("conn", c.id).Msg("recovered from panic in event handler")
			if env.Ack != 0 {
				c.ack(env.Ack, failureResult(registry.ErrInternal))
			}
		}
	}()

	switch env.Event {
	case eventCreateRoom:
		c.handleCreateRoom(env)
	case eventJoinRoom:
		c.handleJoinRoom(env)
	case eventSendMessage:
		c.handleSendMessage(env)
	default:
		log.Warn().Str("event", env.Event).Str("addr", c.addr).Msg("unknown event type")
	}
}

func (c *Client) handleCreateRoom(env Envelope) {
	var req createRoomRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.ack(env.Ack, failureResult(registry.ErrInvalidInput))
		return
	}

	state, err := c.reg.CreateRoom(c.id, req.Nickname, req.Limit, req.DeviceID)
	if err != nil {
		c.ack(env.Ack, failureResult(err))
		return
	}
	roomsCreatedTotal.Inc()
	c.ack(env.Ack, successResult(state))
}

func (c *Client) handleJoinRoom(env Envelope) {
	var req joinRoomRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		c.rejectJoin(env.Ack, registry.ErrInvalidInput)
		return
	}

	state, err := c.reg.JoinRoom(c.id, req.PIN, req.Nickname, req.DeviceID)
	if err != nil {
		c.rejectJoin(env.Ack, err)
		return
	}
	joinsTotal.Inc()
	c.ack(env.Ack, successResult(state))
}

func (c *Client) handleSendMessage(env Envelope) {
	var req sendMessageRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		log.Debug().Str("addr", c.addr).Err(err).Msg("malformed send_message dropped")
		return
	}

	// Fire-and-forget: no acknowledgement either way.
	c.reg.SendMessage(req.PIN, req.Autor, req.Message)
	messagesTotal.Inc()
}

// ack sends a correlated response when the request carried an ack id.
func (c *Client) ack(ackID uint64, result ackResult) {
	if ackID == 0 {
		return
	}
	payload, err := json.Marshal(outEnvelope{Event: eventAck, Ack: ackID, Payload: result})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode ack")
		return
	}
	c.hub.safeSend(c, payload)
}

// rejectJoin reports a failed join. Clients that asked for an ack get the
// failure there; legacy clients without one get a private error_join event.
func (c *Client) rejectJoin(ackID uint64, err error) {
	if ackID != 0 {
		c.ack(ackID, failureResult(err))
		return
	}
	result := failureResult(err)
	c.hub.Deliver(c.id, registry.Event{Name: registry.EventErrorJoin, Payload: registry.JoinError{Error: result.Error}})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Error().Err(err).Msg("error closing connection in readPump")
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.dispatch(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Error().Err(err).Msg("error closing connection in writePump")
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("error setting write deadline")
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Error().Err(err).Str("addr", c.addr).Msg("error writing close message")
		}
	}
	return false
}

// writeTextMessage writes a single frame. Unlike a plain byte relay, queued
// envelopes must stay one-per-frame so clients can decode them individually.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("error writing message")
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		log.Error().Err(err).Str("addr", c.addr).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		return false
	}
	return true
}
