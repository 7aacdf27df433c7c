// Package registry declares the outbound events the coordinator emits and
// the transport port it emits them through.
package registry

// Names of the events pushed to clients.
const (
	EventHostInfo       = "host_info"
	EventRoomUpdate     = "room_update"
	EventReceiveMessage = "receive_message"
	EventErrorJoin      = "error_join"
)

// Event is a named payload handed to the transport for delivery.
type Event struct {
	Name    string
	Payload any
}

// HostInfo tells a client how to reach the host machine on the local network.
// Sent privately to the creator on create and to each joiner on join.
type HostInfo struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
}

// RoomUpdate is broadcast to a room's delivery group whenever membership
// changes. UserJoined and UserLeft are mutually exclusive.
type RoomUpdate struct {
	Participants int    `json:"participants"`
	Limit        int    `json:"limit"`
	UserJoined   string `json:"userJoined,omitempty"`
	UserLeft     string `json:"userLeft,omitempty"`
}

// ChatMessage is broadcast to a room's delivery group on send_message.
// The field names follow the client protocol, "autor" included.
type ChatMessage struct {
	Autor     string `json:"autor"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// JoinError is the legacy private rejection pushed to clients that join
// without requesting an acknowledgement.
type JoinError struct {
	Error string `json:"error"`
}

// Port is the registry's one-way door to the transport layer. Join and Leave
// manage a connection's membership in a room's delivery group; Deliver sends
// to a single connection and Broadcast to every connection in a group. All
// four are best-effort: the registry never learns whether a send landed.
type Port interface {
	Join(connID, pin string)
	Leave(connID, pin string)
	Deliver(connID string, ev Event)
	Broadcast(pin string, ev Event)
}
