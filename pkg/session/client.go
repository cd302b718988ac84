package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
)

// ErrAlreadyConnecting is returned by Connect while a primary connection is
// still outstanding; a client owns at most one at a time.
var ErrAlreadyConnecting = errors.New("session: connection already outstanding")

// ErrEngineUnavailable is returned by mutating calls when the session was
// built without a transport engine.
var ErrEngineUnavailable = errors.New("session: transport engine unavailable")

// Client drives a single outbound connection: NoConnection → Connecting on
// Connect, → Connected on the engine's Connected event, back to NoConnection
// on a terminal event or Disconnect. The embedder pumps it with Poll and
// ReceiveMessages on a cadence of its choosing.
type Client struct {
	base

	mu        sync.Mutex
	conn      transport.Handle
	connected bool
	onMessage func([]byte)
}

// NewClient builds a client session on the given engine. A nil engine is
// tolerated (all operations degrade to no-ops). Close releases the dispatcher
// association when the client is done.
func NewClient(f transport.Facade, d *Dispatcher, opts Options) *Client {
	c := &Client{base: base{facade: f, dispatcher: d, opts: opts.withDefaults()}}
	c.token = d.Associate(c)
	return c
}

// OnMessage registers the inbound-message callback. It runs on the goroutine
// calling ReceiveMessages, once per drained message.
func (c *Client) OnMessage(fn func(payload []byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Connect initiates a connection attempt to address ("host:port"). Success
// means the attempt was initiated, not that the peer was reached; watch
// IsConnected after polling. A second Connect while a connection is
// outstanding is rejected.
func (c *Client) Connect(address string) error {
	if !c.available() {
		return ErrEngineUnavailable
	}
	if _, portStr, err := net.SplitHostPort(address); err != nil {
		return fmt.Errorf("session: invalid address %q: %w", address, err)
	} else if _, err := strconv.ParseUint(portStr, 10, 16); err != nil {
		return fmt.Errorf("session: invalid port in %q: %w", address, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != transport.InvalidHandle {
		return ErrAlreadyConnecting
	}
	h, err := c.facade.CreateOutbound(address, c.dispatcher.Dispatch, c.token)
	if err != nil {
		return fmt.Errorf("session: create connection: %w", err)
	}
	c.conn = h
	zap.L().Info("client: connecting", zap.String("address", address), zap.Uint32("conn", uint32(h)))
	return nil
}

// Disconnect requests a graceful close and invalidates the handle
// immediately, without waiting for engine confirmation. No-op when not
// connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.available() || c.conn == transport.InvalidHandle {
		return
	}
	c.facade.Close(c.conn, "client disconnecting", true)
	c.conn = transport.InvalidHandle
	c.connected = false
}

// IsConnected reports whether the last observed state is Connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendReliable sends payload with guaranteed-ordered delivery. No-op unless
// connected.
func (c *Client) SendReliable(payload []byte) { c.send(payload, transport.SendReliable) }

// SendUnreliable sends payload best-effort. No-op unless connected.
func (c *Client) SendUnreliable(payload []byte) { c.send(payload, transport.SendUnreliable) }

func (c *Client) send(payload []byte, mode transport.SendMode) {
	c.mu.Lock()
	h := c.conn
	ok := c.connected
	c.mu.Unlock()
	if !ok {
		return
	}
	c.sendRaw(h, payload, mode)
}

// ReceiveMessages drains up to the configured batch of inbound messages and
// invokes the registered callback for each. Call repeatedly to work through a
// backlog deeper than one batch. No-op unless connected.
func (c *Client) ReceiveMessages() {
	c.mu.Lock()
	h := c.conn
	ok := c.connected
	fn := c.onMessage
	batch := c.opts.ReceiveBatch
	c.mu.Unlock()
	if !ok || !c.available() {
		return
	}
	msgs, err := c.facade.DrainInbound(h, batch)
	if err != nil {
		zap.L().Debug("client: drain failed", zap.Uint32("conn", uint32(h)), zap.Error(err))
		return
	}
	if fn == nil {
		return
	}
	for _, m := range msgs {
		fn(m.Payload)
	}
}

// HandleStatusChanged implements Role. Events for any handle other than the
// current primary connection are ignored; they are stale echoes of a
// superseded connection.
func (c *Client) HandleStatusChanged(ev transport.StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Conn != c.conn {
		return
	}

	switch ev.State {
	case transport.StateConnected:
		c.connected = true
		zap.L().Info("client: connected", zap.Uint32("conn", uint32(ev.Conn)))

	case transport.StateClosedByPeer, transport.StateProblemDetectedLocally:
		zap.L().Info("client: disconnected",
			zap.Uint32("conn", uint32(ev.Conn)),
			zap.String("state", ev.State.String()),
			zap.String("reason", ev.Detail))
		c.facade.Close(ev.Conn, "", false) // close formally; engine side may already be gone
		c.conn = transport.InvalidHandle
		c.connected = false

	default:
		// Connecting, FindingRoute and friends are transitional.
	}
}

// Close disconnects and releases the dispatcher association. The client must
// not be reused afterwards.
func (c *Client) Close() {
	c.Disconnect()
	c.dispatcher.Drop(c.token)
}

var _ Role = (*Client)(nil)
