// Package server defines the wire envelope and request payloads exchanged
// with clients over the WebSocket connection.
package server

import (
	"encoding/json"
	"errors"

	"github.com/salachat/server/internal/registry"
)

// Names of the inbound events clients may send.
const (
	eventCreateRoom  = "create_room"
	eventJoinRoom    = "join_room"
	eventSendMessage = "send_message"

	// eventAck is the envelope name of a correlated response.
	eventAck = "ack"
)

// Envelope frames every message on the wire: a named event, an optional ack
// id for request/response correlation, and the event's JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Ack     uint64          `json:"ack,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outEnvelope is the server-to-client frame. Payload is marshaled in place.
type outEnvelope struct {
	Event   string `json:"event"`
	Ack     uint64 `json:"ack,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// createRoomRequest carries the create_room payload. DeviceID is optional;
// when present the creator's device is held to the one-room-per-device rule.
type createRoomRequest struct {
	Nickname string `json:"nickname"`
	Limit    int    `json:"limit"`
	DeviceID string `json:"deviceId,omitempty"`
}

// joinRoomRequest carries the join_room payload.
type joinRoomRequest struct {
	PIN      string `json:"pin"`
	Nickname string `json:"nickname"`
	DeviceID string `json:"deviceId"`
}

// sendMessageRequest carries the send_message payload. The autor field name
// is part of the client protocol.
type sendMessageRequest struct {
	PIN     string `json:"pin"`
	Autor   string `json:"autor"`
	Message string `json:"message"`
}

// ackResult is the payload of a correlated response to create_room or
// join_room.
type ackResult struct {
	Success      bool   `json:"success"`
	PIN          string `json:"pin,omitempty"`
	Participants int    `json:"participants,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	Error        string `json:"error,omitempty"`
	Code         string `json:"code,omitempty"`
}

func successResult(state registry.RoomState) ackResult {
	return ackResult{
		Success:      true,
		PIN:          state.PIN,
		Participants: state.Participants,
		Limit:        state.Limit,
	}
}

func failureResult(err error) ackResult {
	var regErr *registry.Error
	if !errors.As(err, &regErr) {
		regErr = registry.ErrInternal
	}
	return ackResult{
		Success: false,
		Error:   regErr.Message,
		Code:    regErr.Code,
	}
}

// decodeEnvelope parses a raw frame into an Envelope, rejecting frames
// without an event name.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, errors.New("envelope missing event name")
	}
	return env, nil
}
