package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinMorrison-629/QuickNet/pkg/transport"
)

const (
	// defaultReceiveBatch bounds how many inbound messages one
	// ReceiveMessages call drains per connection, so a deep backlog cannot
	// stall a single poll iteration.
	defaultReceiveBatch = 16
	// defaultPollInterval is the sleep between iterations of Server.Run.
	defaultPollInterval = 10 * time.Millisecond
)

// Options tunes a session. The zero value selects the defaults.
type Options struct {
	// ReceiveBatch is the per-connection drain bound for one
	// ReceiveMessages call.
	ReceiveBatch int
	// PollInterval is the sleep between Server.Run iterations.
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReceiveBatch <= 0 {
		o.ReceiveBatch = defaultReceiveBatch
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	return o
}

// base carries what both roles share: the engine reference, the dispatcher
// association, and the raw polling/send primitives. A nil engine is legal and
// degrades every operation to a no-op with a one-time diagnostic, so a
// misconfigured environment fails soft instead of crashing on every call.
type base struct {
	facade     transport.Facade
	dispatcher *Dispatcher
	token      transport.ContextToken
	opts       Options

	unavailable sync.Once
}

// available reports whether the engine is usable, logging once when it isn't.
func (b *base) available() bool {
	if b.facade != nil {
		return true
	}
	b.unavailable.Do(func() {
		zap.L().Error("session: transport engine unavailable, operations degraded to no-ops")
	})
	return false
}

// Poll delivers all currently pending engine events through the dispatcher.
// Non-blocking; safe to call with no connection outstanding.
func (b *base) Poll() {
	if !b.available() {
		return
	}
	b.facade.RunPendingCallbacks()
}

// sendRaw hands payload to the engine. Sends are fire-and-forget: a rejected
// or stale handle is logged and otherwise ignored.
func (b *base) sendRaw(h transport.Handle, payload []byte, mode transport.SendMode) {
	if !b.available() || h == transport.InvalidHandle {
		return
	}
	if err := b.facade.Send(h, payload, mode); err != nil {
		zap.L().Debug("session: send dropped",
			zap.Uint32("conn", uint32(h)), zap.String("mode", mode.String()), zap.Error(err))
	}
}
