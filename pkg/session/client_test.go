package session

import (
	"errors"
	"testing"

	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
	"github.com/KevinMorrison-629/QuickNet/pkg/transport/memnet"
)

// harness wires a server and a client onto one in-process network sharing one
// dispatcher, the way a single-process embedder would.
type harness struct {
	net    *memnet.Network
	d      *Dispatcher
	server *Server
	client *Client
}

const testPort = 27020

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{net: memnet.New(), d: NewDispatcher()}
	h.server = NewServer(h.net, h.d, Options{})
	h.client = NewClient(h.net, h.d, Options{})
	if err := h.server.Initialize(testPort); err != nil {
		t.Fatalf("server initialize: %v", err)
	}
	return h
}

// pump polls a few rounds so queued events (and the events those events
// cause, like admission completing) all land.
func (h *harness) pump() {
	for i := 0; i < 4; i++ {
		h.server.Poll()
	}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.client.Connect("127.0.0.1:27020"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.pump()
	if !h.client.IsConnected() {
		t.Fatalf("client not connected after pump")
	}
}

func TestClientConnectLifecycle(t *testing.T) {
	h := newHarness(t)

	if h.client.IsConnected() {
		t.Fatalf("fresh client reports connected")
	}
	h.connect(t)
	if got := len(h.server.Peers()); got != 1 {
		t.Fatalf("registry size = %d, want 1", got)
	}

	h.client.Disconnect()
	if h.client.IsConnected() {
		t.Fatalf("client still connected after Disconnect")
	}
	h.pump()
	if got := len(h.server.Peers()); got != 0 {
		t.Fatalf("registry size after disconnect = %d, want 0", got)
	}
}

func TestClientConnectNoListener(t *testing.T) {
	net := memnet.New()
	d := NewDispatcher()
	c := NewClient(net, d, Options{})

	// The attempt is initiated fine; the refusal arrives as an event.
	if err := c.Connect("127.0.0.1:1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if c.IsConnected() {
		t.Fatalf("connected before any event")
	}
	c.Poll()
	if c.IsConnected() {
		t.Fatalf("connected despite refusal")
	}
	if c.conn != transport.InvalidHandle {
		t.Fatalf("handle not invalidated after terminal event")
	}
	// Back in NoConnection, a fresh attempt is allowed.
	if err := c.Connect("127.0.0.1:1"); err != nil {
		t.Fatalf("reconnect after refusal: %v", err)
	}
}

func TestClientConnectRejectsMalformedAddress(t *testing.T) {
	h := newHarness(t)
	for _, addr := range []string{"nonsense", "127.0.0.1", "127.0.0.1:port", "127.0.0.1:99999"} {
		if err := h.client.Connect(addr); err == nil {
			t.Errorf("Connect(%q) accepted a malformed address", addr)
		}
	}
}

func TestClientDoubleConnectRejected(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	if err := h.client.Connect("127.0.0.1:27020"); !errors.Is(err, ErrAlreadyConnecting) {
		t.Fatalf("second Connect = %v, want ErrAlreadyConnecting", err)
	}
}

func TestClientSendAfterDisconnectIsNoOp(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.client.SendReliable([]byte("one"))
	before := h.net.SendCalls()
	if before == 0 {
		t.Fatalf("expected a transport send while connected")
	}

	h.client.Disconnect()
	h.client.SendReliable([]byte("two"))
	h.client.SendUnreliable([]byte("three"))
	if got := h.net.SendCalls(); got != before {
		t.Fatalf("sends reached the transport after disconnect: %d -> %d", before, got)
	}
}

func TestClientReceiveDrainsInBatches(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	const backlog = 20 // deeper than one batch of 16
	for i := 0; i < backlog; i++ {
		h.server.BroadcastReliable([]byte{byte(i)})
	}

	var got int
	h.client.OnMessage(func(payload []byte) { got++ })

	h.client.ReceiveMessages()
	if got != 16 {
		t.Fatalf("first drain delivered %d, want 16", got)
	}
	h.client.ReceiveMessages()
	if got != backlog {
		t.Fatalf("second drain delivered %d total, want %d", got, backlog)
	}
}

func TestClientIgnoresStaleHandleEvents(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	stale := h.client.conn + 100
	h.client.HandleStatusChanged(transport.StatusEvent{
		Conn: stale, State: transport.StateClosedByPeer, Token: h.client.token, Detail: "stale",
	})
	if !h.client.IsConnected() {
		t.Fatalf("stale event tore down the live connection")
	}
}

func TestClientWithoutEngineDegradesToNoOps(t *testing.T) {
	d := NewDispatcher()
	c := NewClient(nil, d, Options{})

	if err := c.Connect("127.0.0.1:27020"); !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Connect = %v, want ErrEngineUnavailable", err)
	}
	// None of these may panic.
	c.Poll()
	c.ReceiveMessages()
	c.SendReliable([]byte("x"))
	c.Disconnect()
	c.Close()
}
