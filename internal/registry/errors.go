// Package registry defines the error taxonomy shared between the coordinator
// and the transport layer's acknowledgement replies.
package registry

import "errors"

// Error is a request rejection with a stable wire code and a human-readable
// message. Rejections leave registry state untouched.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is makes errors.Is match on the wire code so callers can compare against
// the sentinel values below while still wrapping with context.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// Sentinel errors for every way a request can be rejected.
var (
	ErrInvalidInput        = &Error{Code: "INVALID_INPUT", Message: "missing or malformed request fields"}
	ErrRoomNotFound        = &Error{Code: "ROOM_NOT_FOUND", Message: "no active room with that PIN"}
	ErrRoomFull            = &Error{Code: "ROOM_FULL", Message: "the room is already at capacity"}
	ErrDeviceElsewhere     = &Error{Code: "DEVICE_IN_OTHER_ROOM", Message: "this device is already in another room"}
	ErrDeviceAlreadyJoined = &Error{Code: "DEVICE_ALREADY_IN_ROOM", Message: "this device is already in the room"}
	ErrInternal            = &Error{Code: "INTERNAL", Message: "internal server error"}
)

func invalidInput(msg string) *Error {
	return &Error{Code: ErrInvalidInput.Code, Message: msg}
}
