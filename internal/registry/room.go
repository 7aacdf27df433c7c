// Package registry models rooms and their members.
package registry

import "time"

// Member is one participant of a room. DeviceID may be empty for a creator
// that did not supply one; such members are tracked by connection only.
type Member struct {
	ConnID   string
	Nickname string
	DeviceID string
	JoinedAt time.Time
}

// Room is an active chat room keyed by its PIN. Members are kept in join
// order; order is for display only.
type Room struct {
	PIN         string
	CreatorConn string
	Limit       int
	CreatedAt   time.Time
	Members     []Member

	// generation distinguishes room incarnations that reuse a PIN, so a
	// deferred cleanup scheduled for an old incarnation never deletes a
	// new one.
	generation uint64
}

func (r *Room) full() bool {
	return len(r.Members) >= r.Limit
}

func (r *Room) hasDevice(deviceID string) bool {
	if deviceID == "" {
		return false
	}
	for _, m := range r.Members {
		if m.DeviceID == deviceID {
			return true
		}
	}
	return false
}

// removeConn removes the member bound to connID and reports the removed
// member. The second return is false when no member matched.
func (r *Room) removeConn(connID string) (Member, bool) {
	for i, m := range r.Members {
		if m.ConnID == connID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return m, true
		}
	}
	return Member{}, false
}

// MemberStatus is the per-member view exposed by the status query.
type MemberStatus struct {
	Nickname  string    `json:"nickname"`
	DeviceID  string    `json:"deviceId,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
	Connected bool      `json:"connected"`
}

// RoomStatus is the read-only snapshot served by the debugging endpoint.
type RoomStatus struct {
	PIN          string         `json:"pin"`
	CreatedAt    time.Time      `json:"createdAt"`
	Limit        int            `json:"limit"`
	Participants int            `json:"participants"`
	Members      []MemberStatus `json:"members"`
}

// RoomState is the slice of room state returned to a requester after a
// successful create or join.
type RoomState struct {
	PIN          string
	Participants int
	Limit        int
}
