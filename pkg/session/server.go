package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
)

// Server owns a listening endpoint and a registry of connected peer handles.
// Inbound attempts surface as Connecting events and are admitted explicitly;
// a handle lives in the registry exactly between its Connected event and its
// first terminal event (or Stop). Broadcast and receive sweeps iterate a
// snapshot of the registry, so status handling may remove peers mid-sweep
// without skipping or duplicating anyone.
type Server struct {
	base

	mu        sync.Mutex
	listener  transport.Handle
	peers     []transport.Handle
	onMessage func(peer transport.Handle, payload []byte)

	running atomic.Bool
}

// NewServer builds a server session on the given engine. A nil engine is
// tolerated (all operations degrade to no-ops).
func NewServer(f transport.Facade, d *Dispatcher, opts Options) *Server {
	s := &Server{base: base{facade: f, dispatcher: d, opts: opts.withDefaults()}}
	s.token = d.Associate(s)
	return s
}

// OnMessage registers the inbound-message callback. It runs on the goroutine
// calling ReceiveMessages, once per drained message, with the originating
// peer handle.
func (s *Server) OnMessage(fn func(peer transport.Handle, payload []byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// Initialize binds a listening endpoint on all local addresses for port.
// Port zero is rejected: the session layer has no channel for reporting an
// engine-chosen port back to the embedder.
func (s *Server) Initialize(port uint16) error {
	if !s.available() {
		return ErrEngineUnavailable
	}
	if port == 0 {
		return fmt.Errorf("session: listen port must be non-zero")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != transport.InvalidHandle {
		return fmt.Errorf("session: already listening")
	}
	h, err := s.facade.CreateListener(port, s.dispatcher.Dispatch, s.token)
	if err != nil {
		return fmt.Errorf("session: create listener: %w", err)
	}
	s.listener = h
	zap.L().Info("server: listening", zap.Uint16("port", port))
	return nil
}

// Run polls and receives in a loop until Stop. This is the one blocking call
// in the package and purely a convenience; embedders that need the calling
// goroutine back should drive Poll and ReceiveMessages themselves.
func (s *Server) Run() {
	s.running.Store(true)
	for s.running.Load() {
		s.Poll()
		s.ReceiveMessages()
		time.Sleep(s.opts.PollInterval)
	}
}

// Stop ends Run after its current iteration, force-closes every registered
// peer, clears the registry, and closes the listening endpoint. Idempotent.
func (s *Server) Stop() {
	s.running.Store(false)
	if !s.available() {
		return
	}

	s.mu.Lock()
	peers := s.peers
	s.peers = nil
	listener := s.listener
	s.listener = transport.InvalidHandle
	s.mu.Unlock()

	if len(peers) == 0 && listener == transport.InvalidHandle {
		return
	}
	zap.L().Info("server: shutting down", zap.Int("peers", len(peers)))
	for _, h := range peers {
		s.facade.Close(h, "server shutting down", true)
	}
	if listener != transport.InvalidHandle {
		s.facade.Close(listener, "", false)
	}
}

// BroadcastReliable sends payload to every registered peer with
// guaranteed-ordered delivery.
func (s *Server) BroadcastReliable(payload []byte) { s.broadcast(payload, transport.SendReliable) }

// BroadcastUnreliable sends payload to every registered peer best-effort.
func (s *Server) BroadcastUnreliable(payload []byte) { s.broadcast(payload, transport.SendUnreliable) }

// broadcast iterates the registry in order. A send failure for one peer never
// aborts delivery to the rest; sendRaw already swallows per-peer faults.
func (s *Server) broadcast(payload []byte, mode transport.SendMode) {
	for _, h := range s.Peers() {
		s.sendRaw(h, payload, mode)
	}
}

// ReceiveMessages drains up to the configured batch from every registered
// peer and invokes the callback per message. A drain failure on one peer is
// logged and the sweep continues with the next.
func (s *Server) ReceiveMessages() {
	if !s.available() {
		return
	}
	s.mu.Lock()
	fn := s.onMessage
	batch := s.opts.ReceiveBatch
	s.mu.Unlock()

	for _, h := range s.Peers() {
		msgs, err := s.facade.DrainInbound(h, batch)
		if err != nil {
			zap.L().Debug("server: drain failed", zap.Uint32("conn", uint32(h)), zap.Error(err))
			continue
		}
		if fn == nil {
			continue
		}
		for _, m := range msgs {
			fn(m.Conn, m.Payload)
		}
	}
}

// Peers returns a snapshot of the registry in insertion order.
func (s *Server) Peers() []transport.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Handle(nil), s.peers...)
}

// HandleStatusChanged implements Role.
func (s *Server) HandleStatusChanged(ev transport.StatusEvent) {
	switch ev.State {
	case transport.StateConnecting:
		// Inbound attempts must be admitted explicitly or the remote side
		// times out; an admission failure closes with a reason instead of
		// leaving the connection half-open.
		zap.L().Info("server: connection request",
			zap.Uint32("conn", uint32(ev.Conn)), zap.String("detail", ev.Detail))
		if err := s.facade.Accept(ev.Conn); err != nil {
			zap.L().Warn("server: accept failed", zap.Uint32("conn", uint32(ev.Conn)), zap.Error(err))
			s.facade.Close(ev.Conn, "failed to accept connection", false)
		}

	case transport.StateConnected:
		s.mu.Lock()
		if !s.registered(ev.Conn) { // duplicates should not happen; first wins
			s.peers = append(s.peers, ev.Conn)
		}
		n := len(s.peers)
		s.mu.Unlock()
		zap.L().Info("server: peer connected", zap.Uint32("conn", uint32(ev.Conn)), zap.Int("peers", n))

	case transport.StateClosedByPeer, transport.StateProblemDetectedLocally:
		s.facade.Close(ev.Conn, "", false) // idempotent; engine side may already be gone
		s.mu.Lock()
		s.remove(ev.Conn)
		n := len(s.peers)
		s.mu.Unlock()
		zap.L().Info("server: peer disconnected",
			zap.Uint32("conn", uint32(ev.Conn)),
			zap.String("state", ev.State.String()),
			zap.String("reason", ev.Detail),
			zap.Int("peers", n))

	default:
	}
}

func (s *Server) registered(h transport.Handle) bool {
	for _, p := range s.peers {
		if p == h {
			return true
		}
	}
	return false
}

// remove deletes the first matching registry entry; no-op if absent.
func (s *Server) remove(h transport.Handle) {
	for i, p := range s.peers {
		if p == h {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return
		}
	}
}

// Close stops the server and releases the dispatcher association. The server
// must not be reused afterwards.
func (s *Server) Close() {
	s.Stop()
	s.dispatcher.Drop(s.token)
}

var _ Role = (*Server)(nil)
