// Package transport defines the boundary between the session layer and the
// underlying reliable/unreliable messaging engine. The session layer consumes
// a small number of connection-oriented primitives through the Facade
// interface; concrete engines live in the subpackages (quicnet for the real
// QUIC-backed engine, memnet for the deterministic in-process one).
package transport

// Handle identifies one logical connection (or listening endpoint) for its
// lifetime. Handles are engine-issued and may be reused after close, so
// callers must not retain a handle past a terminal status event for it.
type Handle uint32

// InvalidHandle is the zero handle; never issued for a live connection.
const InvalidHandle Handle = 0

// ConnState is the engine's view of a connection's lifecycle.
type ConnState int

const (
	// StateNone is the zero state, before any event has been observed.
	StateNone ConnState = iota
	// StateConnecting is reported for an outbound attempt in progress, or an
	// inbound attempt awaiting admission on the listening side.
	StateConnecting
	// StateFindingRoute is transitional and can be ignored by sessions.
	StateFindingRoute
	// StateConnected means the connection is established and usable.
	StateConnected
	// StateClosedByPeer means the remote side closed the connection.
	StateClosedByPeer
	// StateProblemDetectedLocally means the local engine gave up on the
	// connection (timeout, refused, transport failure).
	StateProblemDetectedLocally
	// StateClosedLocally is caused by the local side issuing a close.
	StateClosedLocally
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateFindingRoute:
		return "finding-route"
	case StateConnected:
		return "connected"
	case StateClosedByPeer:
		return "closed-by-peer"
	case StateProblemDetectedLocally:
		return "problem-detected-locally"
	case StateClosedLocally:
		return "closed-locally"
	default:
		return "none"
	}
}

// Terminal reports whether the state means the connection is no longer usable.
func (s ConnState) Terminal() bool {
	switch s {
	case StateClosedByPeer, StateProblemDetectedLocally, StateClosedLocally:
		return true
	}
	return false
}

// SendMode selects the delivery guarantee for one message. The guarantee is
// enforced entirely by the engine.
type SendMode int

const (
	// SendReliable requests guaranteed, ordered delivery.
	SendReliable SendMode = iota
	// SendUnreliable requests best-effort delivery.
	SendUnreliable
)

func (m SendMode) String() string {
	if m == SendUnreliable {
		return "unreliable"
	}
	return "reliable"
}

// ContextToken is opaque out-of-band data attached to a connection or
// listening endpoint at creation time. It is carried back verbatim on every
// status event for that connection, which lets a process-wide callback route
// events to the owning session without a handle lookup race.
type ContextToken uint64

// StatusEvent describes one connection status change reported by the engine.
type StatusEvent struct {
	Conn   Handle
	State  ConnState
	Token  ContextToken
	Detail string // free-text diagnostic, observability only
}

// StatusFunc receives status events. It runs on whatever goroutine calls
// RunPendingCallbacks and must not block.
type StatusFunc func(StatusEvent)

// Inbound is one received message. Conn is the originating connection, which
// matters on the listening side where many peers share one callback.
type Inbound struct {
	Conn    Handle
	Payload []byte
}

// Facade is the narrow engine interface the session layer consumes.
//
// Nothing is delivered asynchronously: status events queue inside the engine
// until RunPendingCallbacks is invoked, and inbound payloads queue until
// DrainInbound is invoked. This keeps the session layer single-threaded under
// a polling discipline of the embedder's choosing.
type Facade interface {
	// CreateOutbound starts an outbound connection attempt to address
	// ("host:port"). The returned handle is valid immediately; progress is
	// reported through status events carrying token.
	CreateOutbound(address string, cb StatusFunc, token ContextToken) (Handle, error)

	// CreateListener binds a listening endpoint on all local addresses for
	// port. Inbound attempts surface as StateConnecting events carrying token.
	CreateListener(port uint16, cb StatusFunc, token ContextToken) (Handle, error)

	// Accept admits an inbound connection that reported StateConnecting.
	Accept(h Handle) error

	// Close tears down a connection or listening endpoint. reason is a
	// diagnostic for the remote side; linger asks the engine to try to flush
	// pending reliable data first. Idempotent for unknown handles.
	Close(h Handle, reason string, linger bool)

	// Send hands payload to the engine for delivery on h with the given mode.
	// Fire-and-forget: acceptance does not imply delivery.
	Send(h Handle, payload []byte, mode SendMode) error

	// DrainInbound pops up to max pending inbound messages for h.
	DrainInbound(h Handle, max int) ([]Inbound, error)

	// RunPendingCallbacks delivers all queued status events, in the order the
	// engine produced them, on the calling goroutine.
	RunPendingCallbacks()
}
