// Package feed maintains live websocket subscriptions whose every message is
// the complete current list of a feed.
package feed

// Status is the lifecycle state of a feed connection.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Event is a transport lifecycle event.
type Event int

const (
	EventOpen Event = iota
	EventMessage
	EventClose
	EventError
	// EventRetry marks the start of a reconnect attempt.
	EventRetry
)

func (e Event) String() string {
	switch e {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Transition returns the status that follows ev in state s.
func Transition(s Status, ev Event) Status {
	switch ev {
	case EventOpen, EventMessage:
		return StatusConnected
	case EventClose, EventRetry:
		return StatusConnecting
	case EventError:
		return StatusError
	default:
		return s
	}
}
