package coordinator

import (
	"fmt"
	"sync"

	"replidoc/document"
)

// ConnectionID identifies one subscriber connection. Opaque to the
// core; transports mint these however they like (e.g. a UUID per
// WebSocket upgrade).
type ConnectionID string

// ConnState is one state of the per-connection state machine.
type ConnState int

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateSubscribed
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event drives a Connection's state transitions.
type Event int

const (
	EventAuthOK Event = iota
	EventAuthFail
	EventSubscribe
	EventUnsubscribe
	EventDisconnect
)

// ErrInvalidTransition is returned when an event is not legal from the
// connection's current state.
type ErrInvalidTransition struct {
	From  ConnState
	Event Event
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("coordinator: event %d is not valid from state %s", e.Event, e.From)
}

// Connection tracks one subscriber's lifecycle state. It does not own
// the transport; transports embed or reference a Connection and ask
// it to validate transitions before acting on them.
type Connection struct {
	mu    sync.Mutex
	id    ConnectionID
	state ConnState
	docID document.ID
}

// NewConnection creates a Connection in the initial Unauthenticated state.
func NewConnection(id ConnectionID) *Connection {
	return &Connection{id: id, state: StateUnauthenticated}
}

// ID returns the connection's identifier.
func (c *Connection) ID() ConnectionID { return c.id }

// State returns the connection's current state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// DocumentID returns the document this connection is subscribed to,
// valid only in StateSubscribed.
func (c *Connection) DocumentID() document.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docID
}

// Transition applies event, optionally recording docID for
// EventSubscribe. It enforces exactly this state table:
//
//	Unauthenticated --auth ok--> Authenticated
//	Unauthenticated --auth fail--> Closed
//	Authenticated --subscribe--> Subscribed(doc)
//	Authenticated --disconnect--> Closed
//	Subscribed --unsubscribe--> Authenticated
//	Subscribed --disconnect--> Closed
//	Closed is terminal
//
// "delta in"/"delta out" from the table are not state transitions —
// they are handled by Coordinator.HandleIncomingDelta while the
// connection stays in Subscribed, so they are not modeled as Events.
func (c *Connection) Transition(event Event, docID document.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state == StateUnauthenticated && event == EventAuthOK:
		c.state = StateAuthenticated
	case c.state == StateUnauthenticated && event == EventAuthFail:
		c.state = StateClosed
	case c.state == StateAuthenticated && event == EventSubscribe:
		c.state = StateSubscribed
		c.docID = docID
	case c.state == StateAuthenticated && event == EventDisconnect:
		c.state = StateClosed
	case c.state == StateSubscribed && event == EventUnsubscribe:
		c.state = StateAuthenticated
		c.docID = ""
	case c.state == StateSubscribed && event == EventDisconnect:
		c.state = StateClosed
	default:
		return &ErrInvalidTransition{From: c.state, Event: event}
	}
	return nil
}
