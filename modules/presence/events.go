package presence

import "errors"

// ErrInvalidEvent is returned for lifecycle events missing a required field.
var ErrInvalidEvent = errors.New("invalid lifecycle event")

// Event is an inbound transport notification consumed by the Bridge.
type Event interface {
	event()
}

// ConnectionEstablished is sent when a transport connection opens.
type ConnectionEstablished struct {
	SessionID string
}

// JoinRequested is sent when a session asks to join a room.
type JoinRequested struct {
	SessionID   string
	RoomID      string
	DisplayName string
}

// LeaveRequested is sent when a session leaves its room but keeps the connection open.
type LeaveRequested struct {
	SessionID string
}

// ConnectionClosed is sent when a transport connection is gone.
type ConnectionClosed struct {
	SessionID string
}

func (ConnectionEstablished) event() {}
func (JoinRequested) event()         {}
func (LeaveRequested) event()        {}
func (ConnectionClosed) event()      {}
