// Package session is the connection-lifecycle core: a client role owning a
// single outbound connection, a server role owning a listening endpoint and a
// registry of connected peers, and the dispatcher that routes engine status
// events to the session instance that owns them. Everything is driven by
// non-blocking polling; the embedder decides the cadence.
package session

import (
	"sync"

	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
)

// Role is the capability a session exposes to the dispatcher: a single entry
// point for connection status changes. It is invoked on whatever goroutine
// runs the poll and must not block.
type Role interface {
	HandleStatusChanged(transport.StatusEvent)
}

// Dispatcher routes status events to owning sessions. At connection-creation
// time a session associates itself and receives a context token; the engine
// carries that token on every event for the connection, and Dispatch uses it
// to find the owner. Tokens are issued once per session and dropped when the
// session closes, never mutated in between.
type Dispatcher struct {
	mu     sync.RWMutex
	next   transport.ContextToken
	owners map[transport.ContextToken]Role
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{owners: make(map[transport.ContextToken]Role)}
}

// Associate registers r as the owner of a fresh context token.
func (d *Dispatcher) Associate(r Role) transport.ContextToken {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.owners[d.next] = r
	return d.next
}

// Drop removes the association for token. Events still in flight for it are
// silently discarded by Dispatch.
func (d *Dispatcher) Drop(token transport.ContextToken) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.owners, token)
}

// Dispatch looks up the owner of ev's token and hands the event over. Events
// with no owner are dropped without complaint: they are expected when a
// session shuts down with engine callbacks still queued. Dispatch is a
// transport.StatusFunc and is what sessions hand to the engine at
// connection-creation time.
func (d *Dispatcher) Dispatch(ev transport.StatusEvent) {
	d.mu.RLock()
	owner := d.owners[ev.Token]
	d.mu.RUnlock()
	if owner != nil {
		owner.HandleStatusChanged(ev)
	}
}
