// Package registry implements the four mutating operations of the room
// coordinator plus the read-only status query.
package registry

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// MinLimit and MaxLimit bound the participant capacity of a room.
	MinLimit = 2
	MaxLimit = 20

	// DefaultGracePeriod is how long an empty room keeps its PIN alive so
	// that a reconnecting member still finds it.
	DefaultGracePeriod = 5 * time.Minute

	maxNicknameLen = 32
	maxMessageLen  = 2000
)

// Registry is the room registry and session coordinator. It owns the room
// table and both lookup indices; nothing else mutates them. A single mutex
// serializes the mutating operations so each one runs to completion against
// a consistent view of the state.
type Registry struct {
	mu sync.Mutex

	rooms      map[string]*Room  // PIN -> room
	deviceRoom map[string]string // device ID -> PIN it currently occupies
	connDevice map[string]string // connection ID -> device ID

	out   Port
	host  HostInfo
	grace time.Duration
	now   func() time.Time

	generation uint64
}

// Option configures a Registry.
type Option func(*Registry)

// WithGracePeriod sets the delay between a room becoming empty and its
// deletion. Zero deletes empty rooms immediately.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Registry) { r.grace = d }
}

// WithHostInfo sets the host identity pushed to creators and joiners.
func WithHostInfo(hi HostInfo) Option {
	return func(r *Registry) { r.host = hi }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a Registry that emits outbound traffic through out.
func New(out Port, opts ...Option) *Registry {
	r := &Registry{
		rooms:      make(map[string]*Room),
		deviceRoom: make(map[string]string),
		connDevice: make(map[string]string),
		out:        out,
		grace:      DefaultGracePeriod,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// allocatePIN draws uniformly random 6-digit PINs until one is free. The
// caller must hold r.mu. With 900000 possible values and a handful of active
// rooms the loop all but always terminates on the first draw.
func (r *Registry) allocatePIN() string {
	for {
		n, err := rand.Int(rand.Reader, big.NewInt(900000))
		if err != nil {
			log.Panic().Err(err).Msg("failed to read random source for PIN")
		}
		key := formatPIN(100000 + n.Int64())
		if _, taken := r.rooms[key]; !taken {
			return key
		}
	}
}

func formatPIN(n int64) string {
	digits := make([]byte, 6)
	for i := 5; i >= 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits)
}

// CreateRoom allocates a PIN, creates the room, and enrolls the creator as
// its first member. The creator's device ID is optional; when present it is
// indexed so the same device cannot also join another room.
func (r *Registry) CreateRoom(connID, nickname string, limit int, deviceID string) (RoomState, error) {
	nickname = sanitizeText(nickname, maxNicknameLen)
	if nickname == "" {
		return RoomState{}, invalidInput("nickname is required")
	}
	if limit < MinLimit || limit > MaxLimit {
		return RoomState{}, invalidInput("participant limit must be between 2 and 20")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if deviceID != "" {
		if pin, ok := r.deviceRoom[deviceID]; ok {
			log.Warn().Str("device", deviceID).Str("pin", pin).Msg("create rejected, device already in a room")
			return RoomState{}, ErrDeviceElsewhere
		}
	}

	pin := r.allocatePIN()
	r.generation++
	room := &Room{
		PIN:         pin,
		CreatorConn: connID,
		Limit:       limit,
		CreatedAt:   r.now(),
		Members: []Member{{
			ConnID:   connID,
			Nickname: nickname,
			DeviceID: deviceID,
			JoinedAt: r.now(),
		}},
		generation: r.generation,
	}
	r.rooms[pin] = room
	if deviceID != "" {
		r.deviceRoom[deviceID] = pin
		r.connDevice[connID] = deviceID
	}

	r.out.Join(connID, pin)
	r.out.Deliver(connID, Event{Name: EventHostInfo, Payload: r.host})

	log.Info().Str("pin", pin).Str("conn", connID).Str("nickname", nickname).Int("limit", limit).Msg("room created")
	return RoomState{PIN: pin, Participants: len(room.Members), Limit: room.Limit}, nil
}

// JoinRoom adds a device to an existing room. Validation short-circuits on
// the first failure: unknown PIN, full room, device occupying another room,
// then device already present in this room.
func (r *Registry) JoinRoom(connID, pin, nickname, deviceID string) (RoomState, error) {
	nickname = sanitizeText(nickname, maxNicknameLen)
	if nickname == "" || deviceID == "" {
		return RoomState{}, invalidInput("nickname and deviceId are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[pin]
	if !ok {
		return RoomState{}, ErrRoomNotFound
	}
	if room.full() {
		return RoomState{}, ErrRoomFull
	}
	if other, ok := r.deviceRoom[deviceID]; ok && other != pin {
		return RoomState{}, ErrDeviceElsewhere
	}
	if room.hasDevice(deviceID) {
		return RoomState{}, ErrDeviceAlreadyJoined
	}

	room.Members = append(room.Members, Member{
		ConnID:   connID,
		Nickname: nickname,
		DeviceID: deviceID,
		JoinedAt: r.now(),
	})
	r.deviceRoom[deviceID] = pin
	r.connDevice[connID] = deviceID

	r.out.Join(connID, pin)
	r.out.Broadcast(pin, Event{Name: EventRoomUpdate, Payload: RoomUpdate{
		Participants: len(room.Members),
		Limit:        room.Limit,
		UserJoined:   nickname,
	}})
	r.out.Deliver(connID, Event{Name: EventHostInfo, Payload: r.host})

	log.Info().Str("pin", pin).Str("conn", connID).Str("nickname", nickname).Int("participants", len(room.Members)).Msg("member joined")
	return RoomState{PIN: pin, Participants: len(room.Members), Limit: room.Limit}, nil
}

// SendMessage relays a chat message to everyone in the room's delivery
// group. Unknown PINs and blank messages are dropped without an error;
// delivery gating is the transport's room subscription, not a membership
// check here.
func (r *Registry) SendMessage(pin, autor, text string) {
	text = sanitizeText(text, maxMessageLen)
	if text == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[pin]; !ok {
		log.Debug().Str("pin", pin).Msg("message for unknown room dropped")
		return
	}

	r.out.Broadcast(pin, Event{Name: EventReceiveMessage, Payload: ChatMessage{
		Autor:     sanitizeText(autor, maxNicknameLen),
		Message:   text,
		Timestamp: r.now().UnixMilli(),
	}})
}

// Disconnect removes every membership the closed connection held and
// notifies the remaining members of each affected room. A deviceless
// connection can hold more than one membership (it may create several
// rooms), so removal loops until no room knows the connection. It is a
// no-op for connections that never joined a room, so the transport may
// call it unconditionally.
func (r *Registry) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		room := r.resolveRoom(connID)
		if room == nil {
			break
		}
		member, ok := room.removeConn(connID)
		if !ok {
			break
		}
		delete(r.connDevice, connID)
		if member.DeviceID != "" {
			delete(r.deviceRoom, member.DeviceID)
		}
		r.out.Leave(connID, room.PIN)

		log.Info().Str("pin", room.PIN).Str("conn", connID).Str("nickname", member.Nickname).Int("participants", len(room.Members)).Msg("member left")

		if len(room.Members) == 0 {
			r.scheduleCleanup(room)
			continue
		}

		r.out.Broadcast(room.PIN, Event{Name: EventRoomUpdate, Payload: RoomUpdate{
			Participants: len(room.Members),
			Limit:        room.Limit,
			UserLeft:     member.Nickname,
		}})
	}

	delete(r.connDevice, connID)
}

// resolveRoom finds the room a connection belongs to, first through the
// connection and device indices, then by scanning member lists for members
// that carry no device ID. The caller must hold r.mu.
func (r *Registry) resolveRoom(connID string) *Room {
	if deviceID, ok := r.connDevice[connID]; ok {
		if pin, ok := r.deviceRoom[deviceID]; ok {
			return r.rooms[pin]
		}
	}
	for _, room := range r.rooms {
		for _, m := range room.Members {
			if m.ConnID == connID {
				return room
			}
		}
	}
	return nil
}

// scheduleCleanup deletes an empty room, either immediately or after the
// grace window. The deferred callback re-fetches the room and re-checks
// emptiness at fire time; a member may have joined during the window, or the
// PIN may already belong to a newer incarnation.
func (r *Registry) scheduleCleanup(room *Room) {
	if r.grace <= 0 {
		delete(r.rooms, room.PIN)
		log.Info().Str("pin", room.PIN).Msg("empty room deleted")
		return
	}

	pin, gen := room.PIN, room.generation
	log.Info().Str("pin", pin).Dur("grace", r.grace).Msg("empty room scheduled for deletion")
	time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		current, ok := r.rooms[pin]
		if !ok || current.generation != gen || len(current.Members) > 0 {
			return
		}
		delete(r.rooms, pin)
		log.Info().Str("pin", pin).Msg("empty room deleted after grace period")
	})
}

// Status returns a snapshot of one room for the debugging endpoint.
func (r *Registry) Status(pin string) (RoomStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[pin]
	if !ok {
		return RoomStatus{}, false
	}

	status := RoomStatus{
		PIN:          room.PIN,
		CreatedAt:    room.CreatedAt,
		Limit:        room.Limit,
		Participants: len(room.Members),
		Members:      make([]MemberStatus, 0, len(room.Members)),
	}
	for _, m := range room.Members {
		status.Members = append(status.Members, MemberStatus{
			Nickname:  m.Nickname,
			DeviceID:  m.DeviceID,
			JoinedAt:  m.JoinedAt,
			Connected: m.ConnID != "",
		})
	}
	return status, true
}

// RoomCount reports the number of active rooms, for metrics.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
