// Package quicnet implements the transport facade over QUIC. Reliable sends
// travel as u32-LE length-prefixed frames on a single bidirectional stream per
// connection; unreliable sends use QUIC datagrams. All engine activity runs on
// background goroutines that only ever queue work: status events surface from
// RunPendingCallbacks and payloads from DrainInbound, so the session layer
// keeps its polling discipline even on top of a fully asynchronous engine.
package quicnet

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
)

const (
	alpnProto    = "quicknet"
	maxFrameSize = 1 << 24
	// inboundCap bounds the per-connection receive queue; a peer that is
	// never drained stops accumulating memory and starts losing messages.
	inboundCap = 1024
)

// Engine is the process-wide QUIC engine. Obtain it through Acquire; it
// implements transport.Facade.
type Engine struct {
	mu        sync.Mutex
	next      transport.Handle
	conns     map[transport.Handle]*conn
	listeners map[transport.Handle]*listener
	events    []pending

	tlsServer *tls.Config
	quicConf  *quicgo.Config
	ctx       context.Context
	cancel    context.CancelFunc
}

type pending struct {
	cb transport.StatusFunc
	ev transport.StatusEvent
}

type conn struct {
	h     transport.Handle
	cb    transport.StatusFunc
	token transport.ContextToken

	qc     quicgo.Connection
	stream quicgo.Stream
	bw     *bufio.Writer
	wmu    sync.Mutex

	inbound [][]byte
	dropped int
	done    bool // terminal event emitted or locally closed
}

type listener struct {
	h     transport.Handle
	cb    transport.StatusFunc
	token transport.ContextToken
	ql    *quicgo.Listener
}

var (
	globalMu sync.Mutex
	global   *Engine
	refs     int
)

// Acquire returns the process-wide engine, creating it on first use. Every
// Acquire must be balanced by a Release; the engine is torn down when the last
// reference goes away. Multiple sessions in one process share one engine.
func Acquire() (*Engine, error) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		e, err := newEngine()
		if err != nil {
			return nil, err
		}
		global = e
	}
	refs++
	return global, nil
}

// Release drops one reference taken by Acquire. Extra releases are ignored.
func Release() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if refs == 0 {
		return
	}
	refs--
	if refs == 0 {
		global.shutdown()
		global = nil
	}
}

func newEngine() (*Engine, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("quicnet: generate certificate: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		conns:     make(map[transport.Handle]*conn),
		listeners: make(map[transport.Handle]*listener),
		tlsServer: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpnProto},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{EnableDatagrams: true},
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (e *Engine) shutdown() {
	e.cancel()
	e.mu.Lock()
	conns := e.conns
	listeners := e.listeners
	e.conns = make(map[transport.Handle]*conn)
	e.listeners = make(map[transport.Handle]*listener)
	e.events = nil
	e.mu.Unlock()
	for _, c := range conns {
		if c.qc != nil {
			_ = c.qc.CloseWithError(0, "engine shutdown")
		}
	}
	for _, l := range listeners {
		_ = l.ql.Close()
	}
}

func (e *Engine) allocate() transport.Handle {
	e.next++
	return e.next
}

func (e *Engine) queue(cb transport.StatusFunc, ev transport.StatusEvent) {
	e.events = append(e.events, pending{cb: cb, ev: ev})
}

// CreateOutbound allocates a handle immediately and dials in the background.
// The attempt reports StateConnected or StateProblemDetectedLocally through
// status events; the caller never blocks on the handshake.
func (e *Engine) CreateOutbound(address string, cb transport.StatusFunc, token transport.ContextToken) (transport.Handle, error) {
	e.mu.Lock()
	c := &conn{h: e.allocate(), cb: cb, token: token}
	e.conns[c.h] = c
	e.mu.Unlock()

	go e.dial(c, address)
	return c.h, nil
}

func (e *Engine) dial(c *conn, address string) {
	tlsClient := &tls.Config{
		// Identity is the embedding application's concern; the engine only
		// provides the encrypted pipe.
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProto},
		MinVersion:         tls.VersionTLS13,
	}
	qc, err := quicgo.DialAddr(e.ctx, address, tlsClient, e.quicConf)
	if err != nil {
		e.fail(c, transport.StateProblemDetectedLocally, "dial: "+err.Error())
		return
	}
	stream, err := qc.OpenStreamSync(e.ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream failed")
		e.fail(c, transport.StateProblemDetectedLocally, "open stream: "+err.Error())
		return
	}

	e.mu.Lock()
	if c.done {
		// Locally closed while the handshake was in flight.
		e.mu.Unlock()
		_ = qc.CloseWithError(0, "closed during connect")
		return
	}
	c.qc = qc
	c.stream = stream
	c.bw = bufio.NewWriter(stream)
	e.queue(c.cb, transport.StatusEvent{Conn: c.h, State: transport.StateConnected, Token: c.token})
	e.mu.Unlock()

	go e.readFrames(c)
	go e.readDatagrams(c)
}

// CreateListener binds a QUIC listener on all local addresses for port.
func (e *Engine) CreateListener(port uint16, cb transport.StatusFunc, token transport.ContextToken) (transport.Handle, error) {
	ql, err := quicgo.ListenAddr(fmt.Sprintf(":%d", port), e.tlsServer, e.quicConf)
	if err != nil {
		return transport.InvalidHandle, fmt.Errorf("quicnet: listen on %d: %w", port, err)
	}
	e.mu.Lock()
	l := &listener{h: e.allocate(), cb: cb, token: token, ql: ql}
	e.listeners[l.h] = l
	e.mu.Unlock()

	go e.acceptLoop(l)
	return l.h, nil
}

func (e *Engine) acceptLoop(l *listener) {
	for {
		qc, err := l.ql.Accept(e.ctx)
		if err != nil {
			return
		}
		e.mu.Lock()
		c := &conn{h: e.allocate(), cb: l.cb, token: l.token, qc: qc}
		e.conns[c.h] = c
		e.queue(l.cb, transport.StatusEvent{
			Conn: c.h, State: transport.StateConnecting, Token: l.token,
			Detail: "incoming connection from " + qc.RemoteAddr().String(),
		})
		e.mu.Unlock()
	}
}

// Accept admits an inbound connection previously surfaced as StateConnecting.
// Admission completes in the background once the dialer's primary stream
// arrives, at which point StateConnected is queued.
func (e *Engine) Accept(h transport.Handle) error {
	e.mu.Lock()
	c, ok := e.conns[h]
	e.mu.Unlock()
	if !ok {
		return errors.New("quicnet: accept on unknown handle")
	}
	if c.qc == nil {
		return errors.New("quicnet: accept before handshake")
	}

	go func() {
		stream, err := c.qc.AcceptStream(e.ctx)
		if err != nil {
			e.fail(c, transport.StateProblemDetectedLocally, "accept stream: "+err.Error())
			return
		}
		e.mu.Lock()
		if c.done {
			e.mu.Unlock()
			return
		}
		c.stream = stream
		c.bw = bufio.NewWriter(stream)
		e.queue(c.cb, transport.StatusEvent{Conn: c.h, State: transport.StateConnected, Token: c.token})
		e.mu.Unlock()

		go e.readFrames(c)
		go e.readDatagrams(c)
	}()
	return nil
}

// Close tears down a connection or listening endpoint. No further events are
// delivered for the handle; unknown handles are ignored.
func (e *Engine) Close(h transport.Handle, reason string, linger bool) {
	_ = linger // CloseWithError already flushes what it can

	e.mu.Lock()
	if l, ok := e.listeners[h]; ok {
		delete(e.listeners, h)
		e.mu.Unlock()
		_ = l.ql.Close()
		return
	}
	c, ok := e.conns[h]
	if ok {
		delete(e.conns, h)
		c.done = true
	}
	e.mu.Unlock()
	if ok && c.qc != nil {
		_ = c.qc.CloseWithError(0, reason)
	}
}

func (e *Engine) Send(h transport.Handle, payload []byte, mode transport.SendMode) error {
	e.mu.Lock()
	c, ok := e.conns[h]
	e.mu.Unlock()
	if !ok {
		return errors.New("quicnet: send on unknown handle")
	}
	if mode == transport.SendUnreliable {
		if c.qc == nil {
			return errors.New("quicnet: send before connected")
		}
		return c.qc.SendDatagram(payload)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.stream == nil {
		return errors.New("quicnet: send before connected")
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(payload)))
	if _, err := c.bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := c.bw.Write(payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (e *Engine) DrainInbound(h transport.Handle, max int) ([]transport.Inbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.conns[h]
	if !ok {
		return nil, errors.New("quicnet: drain on unknown handle")
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

// RunPendingCallbacks delivers queued status events in FIFO order on the
// calling goroutine. Events queued during delivery wait for the next call.
func (e *Engine) RunPendingCallbacks() {
	e.mu.Lock()
	batch := e.events
	e.events = nil
	e.mu.Unlock()
	for _, p := range batch {
		if p.cb != nil {
			p.cb(p.ev)
		}
	}
}

// readFrames pumps length-prefixed frames off the primary stream into the
// inbound queue until the stream dies.
func (e *Engine) readFrames(c *conn) {
	br := bufio.NewReader(c.stream)
	for {
		var lenbuf [4]byte
		if _, err := io.ReadFull(br, lenbuf[:]); err != nil {
			e.fail(c, closeState(err), "recv: "+err.Error())
			return
		}
		size := int(binary.LittleEndian.Uint32(lenbuf[:]))
		if size < 0 || size > maxFrameSize {
			e.fail(c, transport.StateProblemDetectedLocally, "oversized frame")
			return
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(br, buf); err != nil {
			e.fail(c, closeState(err), "recv: "+err.Error())
			return
		}
		e.deliver(c, buf)
	}
}

func (e *Engine) readDatagrams(c *conn) {
	for {
		buf, err := c.qc.ReceiveDatagram(e.ctx)
		if err != nil {
			// The stream reader owns terminal-state reporting; datagram
			// errors just end the pump.
			return
		}
		e.deliver(c, buf)
	}
}

func (e *Engine) deliver(c *conn, payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.done {
		return
	}
	if len(c.inbound) >= inboundCap {
		c.dropped++
		if c.dropped == 1 || c.dropped%100 == 0 {
			zap.L().Warn("quicnet: inbound queue full, dropping",
				zap.Uint32("conn", uint32(c.h)), zap.Int("dropped", c.dropped))
		}
		return
	}
	c.inbound = append(c.inbound, payload)
}

// fail queues a terminal status event for c exactly once.
func (e *Engine) fail(c *conn, state transport.ConnState, detail string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	e.queue(c.cb, transport.StatusEvent{Conn: c.h, State: state, Token: c.token, Detail: detail})
}

// closeState maps a read error to the terminal state it represents: a clean
// application close from the remote is ClosedByPeer, anything else (idle
// timeout, reset, transport failure) is a locally detected problem.
func closeState(err error) transport.ConnState {
	var appErr *quicgo.ApplicationError
	if errors.As(err, &appErr) && appErr.Remote {
		return transport.StateClosedByPeer
	}
	return transport.StateProblemDetectedLocally
}

// selfSignedCert generates a short-lived self-signed TLS certificate for the
// listening side.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

var _ transport.Facade = (*Engine)(nil)
