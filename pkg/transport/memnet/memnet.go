// Package memnet is an in-process transport engine. Connections are matched
// to listeners by port inside one Network, nothing leaves the process, and
// status events and payloads are only ever delivered from inside
// RunPendingCallbacks/DrainInbound. That makes it deterministic, which is what
// the session-layer tests are built on, and a cheap stand-in for the real
// engine in single-process demos.
package memnet

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
)

// Network is one isolated in-process network. It implements transport.Facade.
// The zero value is not usable; call New.
type Network struct {
	mu        sync.Mutex
	next      transport.Handle
	conns     map[transport.Handle]*conn
	listeners map[uint16]*endpoint
	byHandle  map[transport.Handle]*endpoint
	events    []pending
	sendCalls int
}

type pending struct {
	cb transport.StatusFunc
	ev transport.StatusEvent
}

type conn struct {
	h       transport.Handle
	cb      transport.StatusFunc
	token   transport.ContextToken
	peer    transport.Handle // linked remote side, InvalidHandle if none
	state   transport.ConnState
	inbound [][]byte
	faulty  bool // injected send fault, see FailSends
}

type endpoint struct {
	h     transport.Handle
	port  uint16
	cb    transport.StatusFunc
	token transport.ContextToken
}

func New() *Network {
	return &Network{
		conns:     make(map[transport.Handle]*conn),
		listeners: make(map[uint16]*endpoint),
		byHandle:  make(map[transport.Handle]*endpoint),
	}
}

func (n *Network) allocate() transport.Handle {
	n.next++
	return n.next
}

func (n *Network) queue(cb transport.StatusFunc, ev transport.StatusEvent) {
	n.events = append(n.events, pending{cb: cb, ev: ev})
}

// CreateOutbound starts a connection attempt to address ("host:port"; the host
// part is ignored, ports are process-local names). When no listener is bound
// on the port the attempt is refused asynchronously, mirroring how a real
// engine reports an unreachable endpoint.
func (n *Network) CreateOutbound(address string, cb transport.StatusFunc, token transport.ContextToken) (transport.Handle, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return transport.InvalidHandle, fmt.Errorf("memnet: bad address %q: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return transport.InvalidHandle, fmt.Errorf("memnet: bad port %q: %w", portStr, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	out := &conn{h: n.allocate(), cb: cb, token: token, state: transport.StateConnecting}
	n.conns[out.h] = out

	l, ok := n.listeners[uint16(port)]
	if !ok {
		n.queue(cb, transport.StatusEvent{
			Conn: out.h, State: transport.StateProblemDetectedLocally,
			Token: token, Detail: "connection refused (no listener on port)",
		})
		return out.h, nil
	}

	in := &conn{h: n.allocate(), cb: l.cb, token: l.token, peer: out.h, state: transport.StateConnecting}
	out.peer = in.h
	n.conns[in.h] = in
	n.queue(l.cb, transport.StatusEvent{
		Conn: in.h, State: transport.StateConnecting,
		Token: l.token, Detail: "incoming connection #" + strconv.Itoa(int(out.h)),
	})
	return out.h, nil
}

func (n *Network) CreateListener(port uint16, cb transport.StatusFunc, token transport.ContextToken) (transport.Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[port]; ok {
		return transport.InvalidHandle, fmt.Errorf("memnet: port %d already in use", port)
	}
	l := &endpoint{h: n.allocate(), port: port, cb: cb, token: token}
	n.listeners[port] = l
	n.byHandle[l.h] = l
	return l.h, nil
}

// Accept admits an inbound connection pending in StateConnecting. Both sides
// are promoted to StateConnected and each side is notified.
func (n *Network) Accept(h transport.Handle) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	in, ok := n.conns[h]
	if !ok {
		return errors.New("memnet: accept on unknown handle")
	}
	if in.state != transport.StateConnecting {
		return fmt.Errorf("memnet: accept in state %s", in.state)
	}
	out, ok := n.conns[in.peer]
	if !ok {
		return errors.New("memnet: peer vanished before accept")
	}
	in.state = transport.StateConnected
	out.state = transport.StateConnected
	n.queue(in.cb, transport.StatusEvent{Conn: in.h, State: transport.StateConnected, Token: in.token})
	n.queue(out.cb, transport.StatusEvent{Conn: out.h, State: transport.StateConnected, Token: out.token})
	return nil
}

// Close tears down a connection or listening endpoint. The linked remote
// side, if still live, observes StateClosedByPeer carrying reason. Unknown
// handles are ignored so double-close stays harmless.
func (n *Network) Close(h transport.Handle, reason string, linger bool) {
	_ = linger // loopback delivery is immediate, nothing to flush

	n.mu.Lock()
	defer n.mu.Unlock()

	if l, ok := n.byHandle[h]; ok {
		delete(n.byHandle, h)
		delete(n.listeners, l.port)
		return
	}

	c, ok := n.conns[h]
	if !ok {
		return
	}
	delete(n.conns, h)
	c.state = transport.StateClosedLocally

	if peer, ok := n.conns[c.peer]; ok && !peer.state.Terminal() {
		peer.state = transport.StateClosedByPeer
		peer.peer = transport.InvalidHandle
		n.queue(peer.cb, transport.StatusEvent{
			Conn: peer.h, State: transport.StateClosedByPeer,
			Token: peer.token, Detail: reason,
		})
	}
}

func (n *Network) Send(h transport.Handle, payload []byte, mode transport.SendMode) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendCalls++
	c, ok := n.conns[h]
	if !ok {
		return errors.New("memnet: send on unknown handle")
	}
	if c.state != transport.StateConnected {
		return fmt.Errorf("memnet: send in state %s", c.state)
	}
	if c.faulty {
		return errors.New("memnet: injected send fault")
	}
	peer, ok := n.conns[c.peer]
	if !ok {
		return errors.New("memnet: send with no peer")
	}
	// Both modes deliver on loopback; mode only matters to real engines.
	peer.inbound = append(peer.inbound, append([]byte(nil), payload...))
	return nil
}

func (n *Network) DrainInbound(h transport.Handle, max int) ([]transport.Inbound, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, ok := n.conns[h]
	if !ok {
		return nil, errors.New("memnet: drain on unknown handle")
	}
	if max <= 0 || max > len(c.inbound) {
		max = len(c.inbound)
	}
	if max == 0 {
		return nil, nil
	}
	out := make([]transport.Inbound, 0, max)
	for _, p := range c.inbound[:max] {
		out = append(out, transport.Inbound{Conn: h, Payload: p})
	}
	c.inbound = c.inbound[max:]
	return out, nil
}

// RunPendingCallbacks delivers every queued status event in FIFO order on the
// calling goroutine. Events queued by the callbacks themselves are held for
// the next invocation.
func (n *Network) RunPendingCallbacks() {
	n.mu.Lock()
	batch := n.events
	n.events = nil
	n.mu.Unlock()
	for _, p := range batch {
		if p.cb != nil {
			p.cb(p.ev)
		}
	}
}

// FailSends injects a send fault for h: subsequent Send calls on it fail
// until re-enabled. Test hook for per-peer fault isolation.
func (n *Network) FailSends(h transport.Handle, fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.conns[h]; ok {
		c.faulty = fail
	}
}

// SendCalls reports how many times Send has been invoked, successful or not.
func (n *Network) SendCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendCalls
}

// PeerOf returns the handle linked to h, if any. Test hook.
func (n *Network) PeerOf(h transport.Handle) (transport.Handle, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.conns[h]; ok && c.peer != transport.InvalidHandle {
		return c.peer, true
	}
	return transport.InvalidHandle, false
}

var _ transport.Facade = (*Network)(nil)
